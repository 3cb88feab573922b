// Package schedule builds reward schedules for simulated subjects.
package schedule

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	DefaultMagMin = 1
	DefaultMagMax = 100
)

// Generator draws reward outcomes from a true-probability sequence and pairs
// them with integer reward magnitudes for both options.
type Generator struct {
	Rand   *rand.Rand
	MagMin int
	MagMax int
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		Rand:   rand.New(rand.NewSource(seed)),
		MagMin: DefaultMagMin,
		MagMax: DefaultMagMax,
	}
}

// Generate draws rewarded1[t] = 1 with probability trueProb[t], then the
// magnitudes of option 1 and option 2 for every trial.
func (g *Generator) Generate(trueProb []float64) (rewarded1, mag1, mag2 []float64, err error) {
	if g == nil || g.Rand == nil {
		return nil, nil, nil, errors.New("schedule generator has no random source")
	}
	if len(trueProb) == 0 {
		return nil, nil, nil, errors.New("true probability sequence is empty")
	}
	lo, hi := g.MagMin, g.MagMax
	if lo == 0 && hi == 0 {
		lo, hi = DefaultMagMin, DefaultMagMax
	}
	if lo <= 0 || hi < lo {
		return nil, nil, nil, fmt.Errorf("invalid magnitude range [%d, %d]", lo, hi)
	}

	n := len(trueProb)
	rewarded1 = make([]float64, n)
	for t, p := range trueProb {
		if p < 0 || p > 1 {
			return nil, nil, nil, fmt.Errorf("true probability[%d]=%v outside [0, 1]", t, p)
		}
		if g.Rand.Float64() < p {
			rewarded1[t] = 1
		}
	}
	mag1 = g.magnitudes(n, lo, hi)
	mag2 = g.magnitudes(n, lo, hi)
	return rewarded1, mag1, mag2, nil
}

func (g *Generator) magnitudes(n, lo, hi int) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = float64(lo + g.Rand.Intn(hi-lo+1))
	}
	return out
}

// Stable is a constant reward probability p for n trials.
func Stable(n int, p float64) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = p
	}
	return out
}

// Volatile alternates between p and 1-p every blockLen trials, starting
// with p.
func Volatile(n int, p float64, blockLen int) ([]float64, error) {
	if blockLen <= 0 {
		return nil, errors.New("volatile block length must be > 0")
	}
	out := make([]float64, n)
	for t := range out {
		if (t/blockLen)%2 == 0 {
			out[t] = p
		} else {
			out[t] = 1 - p
		}
	}
	return out, nil
}
