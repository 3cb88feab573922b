package rl

import (
	"fmt"
)

// Simulator runs the choice model forward: it produces the belief trajectory
// and the per-trial probability of choosing option 1 for known parameters.
type Simulator struct {
	Options
}

func NewSimulator(opts Options) Simulator {
	return Simulator{Options: opts}
}

func (s Simulator) Simulate(rewarded1, mag1, mag2 []float64, alpha, beta float64) (probOpt1, choiceProb1 []float64, err error) {
	n := len(rewarded1)
	if n == 0 {
		return nil, nil, fmt.Errorf("simulate: empty schedule")
	}
	if len(mag1) != n || len(mag2) != n {
		return nil, nil, fmt.Errorf("simulate: schedule lengths differ: rewarded1=%d mag1=%d mag2=%d", n, len(mag1), len(mag2))
	}
	u := s.utility()
	probOpt1 = Beliefs(rewarded1, alpha, s.StartingProb)
	choiceProb1 = make([]float64, n)
	for t, p := range probOpt1 {
		utility1 := u.Func(mag1[t], p, s.Omega)
		utility2 := u.Func(mag2[t], 1-p, s.Omega)
		choiceProb1[t] = ChoiceProb(utility1, utility2, beta)
	}
	return probOpt1, choiceProb1, nil
}

// Binarize turns choice probabilities into 0/1 choices: a trial is a choice
// of option 1 when its probability exceeds the matching uniform draw.
func Binarize(choiceProb1 []float64, draw func() float64) []float64 {
	out := make([]float64, len(choiceProb1))
	for t, p := range choiceProb1 {
		if p > draw() {
			out[t] = 1
		}
	}
	return out
}
