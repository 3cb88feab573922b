package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"rlfit/internal/model"
)

// Objective returns the loss at x and writes its gradient into grad.
type Objective func(x, grad []float64) float64

type Settings struct {
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
	// Memory is the number of (step, gradient change) pairs kept for the
	// inverse Hessian approximation.
	Memory        int     `json:"memory"`
	ArmijoC1      float64 `json:"armijo_c1"`
	Shrink        float64 `json:"shrink"`
	MaxLineSearch int     `json:"max_line_search"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxIter:       100,
		Tol:           1e-3,
		Memory:        10,
		ArmijoC1:      1e-4,
		Shrink:        0.5,
		MaxLineSearch: 30,
	}
}

func (s Settings) Validate() error {
	if s.MaxIter < 0 {
		return errors.New("max iter must be >= 0")
	}
	if s.Tol < 0 || math.IsNaN(s.Tol) {
		return errors.New("tol must be >= 0")
	}
	if s.Memory <= 0 {
		return errors.New("memory must be > 0")
	}
	if s.ArmijoC1 <= 0 || s.ArmijoC1 >= 1 {
		return errors.New("armijo c1 must be in (0, 1)")
	}
	if s.Shrink <= 0 || s.Shrink >= 1 {
		return errors.New("shrink must be in (0, 1)")
	}
	if s.MaxLineSearch <= 0 {
		return errors.New("max line search must be > 0")
	}
	return nil
}

// State is the optimizer state of a single run. It is created by Minimize
// and never shared between runs.
type State struct {
	Iteration   int       `json:"iteration"`
	Value       float64   `json:"value"`
	Grad        []float64 `json:"grad"`
	GradNorm    float64   `json:"grad_norm"`
	Evaluations int       `json:"evaluations"`

	steps    [][]float64
	changes  [][]float64
	rho      []float64
	capacity int
}

func (s *State) continuing(settings Settings) bool {
	if s.Iteration == 0 {
		return true
	}
	return s.Iteration < settings.MaxIter && !(s.GradNorm < settings.Tol)
}

func (s *State) remember(step, change []float64) {
	sy := floats.Dot(step, change)
	if !(sy > 1e-12) {
		return
	}
	if len(s.steps) == s.capacity {
		s.steps = s.steps[1:]
		s.changes = s.changes[1:]
		s.rho = s.rho[1:]
	}
	s.steps = append(s.steps, step)
	s.changes = append(s.changes, change)
	s.rho = append(s.rho, 1/sy)
}

func (s *State) forget() {
	s.steps = nil
	s.changes = nil
	s.rho = nil
}

// direction computes -H*grad with the two-loop recursion. Without history the
// steepest descent direction is scaled to unit length at most.
func (s *State) direction(grad []float64) []float64 {
	d := make([]float64, len(grad))
	copy(d, grad)

	m := len(s.steps)
	if m == 0 {
		norm := floats.Norm(d, 2)
		if norm > 1 {
			floats.Scale(1/norm, d)
		}
		floats.Scale(-1, d)
		return d
	}

	alphas := make([]float64, m)
	for i := m - 1; i >= 0; i-- {
		alphas[i] = s.rho[i] * floats.Dot(s.steps[i], d)
		floats.AddScaled(d, -alphas[i], s.changes[i])
	}
	last := s.changes[m-1]
	gamma := floats.Dot(s.steps[m-1], last) / floats.Dot(last, last)
	floats.Scale(gamma, d)
	for i := 0; i < m; i++ {
		b := s.rho[i] * floats.Dot(s.changes[i], d)
		floats.AddScaled(d, alphas[i]-b, s.steps[i])
	}
	floats.Scale(-1, d)
	return d
}

// Minimize runs projected L-BFGS on fn starting from init. After every step
// each parameter is clipped into the interval bounds assigns to its name. The
// run stops once at least one step was taken and either MaxIter steps were
// taken or the gradient norm fell below Tol.
func Minimize(fn Objective, init model.Params, bounds model.Bounds, settings Settings) (model.Params, State, error) {
	if fn == nil {
		return model.Params{}, State{}, errors.New("objective is required")
	}
	if len(init.Names) == 0 || len(init.Names) != len(init.Values) {
		return model.Params{}, State{}, fmt.Errorf("initial params malformed: %d names, %d values", len(init.Names), len(init.Values))
	}
	if err := bounds.Validate(); err != nil {
		return model.Params{}, State{}, err
	}
	if err := settings.Validate(); err != nil {
		return model.Params{}, State{}, err
	}

	n := len(init.Values)
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i, name := range init.Names {
		lo[i], hi[i], _ = bounds.For(name)
	}

	x := make([]float64, n)
	copy(x, init.Values)
	project(x, lo, hi)

	st := State{Grad: make([]float64, n), capacity: settings.Memory}
	st.Value = fn(x, st.Grad)
	st.Evaluations++
	st.GradNorm = floats.Norm(st.Grad, 2)

	for st.continuing(settings) {
		st.Iteration++
		if !isFinite(st.Value) {
			continue
		}

		d := st.direction(st.Grad)
		freeze(d, x, lo, hi)
		if !(floats.Dot(d, st.Grad) < 0) {
			st.forget()
			d = st.direction(st.Grad)
			freeze(d, x, lo, hi)
			if !(floats.Dot(d, st.Grad) < 0) {
				continue
			}
		}

		xNew, fNew, gNew, ok := lineSearch(fn, x, d, st.Value, st.Grad, lo, hi, settings, &st)
		if !ok {
			st.forget()
			continue
		}

		step := make([]float64, n)
		floats.SubTo(step, xNew, x)
		change := make([]float64, n)
		floats.SubTo(change, gNew, st.Grad)
		st.remember(step, change)

		x = xNew
		st.Value = fNew
		st.Grad = gNew
		st.GradNorm = floats.Norm(gNew, 2)
	}

	return model.NewParams(init.Names, x), st, nil
}

// lineSearch backtracks along the projected path x + t*d until the Armijo
// condition holds at the projected point.
func lineSearch(fn Objective, x, d []float64, f0 float64, g0, lo, hi []float64, settings Settings, st *State) ([]float64, float64, []float64, bool) {
	n := len(x)
	t := 1.0
	for k := 0; k < settings.MaxLineSearch; k++ {
		candidate := make([]float64, n)
		floats.AddScaledTo(candidate, x, t, d)
		project(candidate, lo, hi)

		moved := make([]float64, n)
		floats.SubTo(moved, candidate, x)
		decrease := floats.Dot(g0, moved)
		if decrease < 0 {
			grad := make([]float64, n)
			f := fn(candidate, grad)
			st.Evaluations++
			if isFinite(f) && f <= f0+settings.ArmijoC1*decrease {
				return candidate, f, grad, true
			}
		}
		t *= settings.Shrink
	}
	return nil, 0, nil, false
}

func project(x, lo, hi []float64) {
	for i := range x {
		if x[i] < lo[i] {
			x[i] = lo[i]
		}
		if x[i] > hi[i] {
			x[i] = hi[i]
		}
	}
}

// freeze zeroes direction components that would push a parameter already on
// a bound further outside.
func freeze(d, x, lo, hi []float64) {
	for i := range d {
		if (x[i] <= lo[i] && d[i] < 0) || (x[i] >= hi[i] && d[i] > 0) {
			d[i] = 0
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
