package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	ParamAlpha         = "alpha"
	ParamAlphaStable   = "alphaStable"
	ParamAlphaVolatile = "alphaVolatile"
	ParamBeta          = "beta"
)

var ErrInvalidBounds = errors.New("invalid parameter bounds")

// Params is an ordered set of named scalar parameters. Names and Values are
// parallel slices.
type Params struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

func NewParams(names []string, values []float64) Params {
	return Params{
		Names:  append([]string(nil), names...),
		Values: append([]float64(nil), values...),
	}
}

func (p Params) Get(name string) (float64, bool) {
	for i, n := range p.Names {
		if n == name {
			return p.Values[i], true
		}
	}
	return 0, false
}

// Value returns the named parameter or NaN when it is absent.
func (p Params) Value(name string) float64 {
	v, ok := p.Get(name)
	if !ok {
		return math.NaN()
	}
	return v
}

func (p Params) Clone() Params {
	return NewParams(p.Names, p.Values)
}

func (p Params) Map() map[string]float64 {
	out := make(map[string]float64, len(p.Names))
	for i, n := range p.Names {
		out[n] = p.Values[i]
	}
	return out
}

// NaNParams returns params with the given names and every value NaN. It marks
// a subject whose fit did not produce a usable estimate.
func NaNParams(names []string) Params {
	values := make([]float64, len(names))
	for i := range values {
		values[i] = math.NaN()
	}
	return NewParams(names, values)
}

func (p Params) String() string {
	parts := make([]string, len(p.Names))
	for i, n := range p.Names {
		parts[i] = fmt.Sprintf("%s=%.4f", n, p.Values[i])
	}
	return strings.Join(parts, " ")
}

// Bounds are the box constraints applied to fitted parameters.
type Bounds struct {
	AlphaMin float64 `json:"alpha_min" yaml:"alpha_min"`
	AlphaMax float64 `json:"alpha_max" yaml:"alpha_max"`
	BetaMin  float64 `json:"beta_min" yaml:"beta_min"`
	BetaMax  float64 `json:"beta_max" yaml:"beta_max"`
}

func DefaultBounds() Bounds {
	return Bounds{AlphaMin: 0, AlphaMax: 1, BetaMin: 0, BetaMax: 1}
}

// For returns the interval for a parameter name: any name containing "alpha"
// uses the alpha pair and any name containing "beta" the beta pair. Other
// names are unbounded and ok is false.
func (b Bounds) For(name string) (lo, hi float64, ok bool) {
	switch {
	case strings.Contains(name, "alpha"):
		return b.AlphaMin, b.AlphaMax, true
	case strings.Contains(name, "beta"):
		return b.BetaMin, b.BetaMax, true
	default:
		return math.Inf(-1), math.Inf(1), false
	}
}

func (b Bounds) Validate() error {
	for _, v := range []float64{b.AlphaMin, b.AlphaMax, b.BetaMin, b.BetaMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bounds must be finite", ErrInvalidBounds)
		}
	}
	if b.AlphaMin > b.AlphaMax {
		return fmt.Errorf("%w: alpha min %v > max %v", ErrInvalidBounds, b.AlphaMin, b.AlphaMax)
	}
	if b.BetaMin > b.BetaMax {
		return fmt.Errorf("%w: beta min %v > max %v", ErrInvalidBounds, b.BetaMin, b.BetaMax)
	}
	return nil
}
