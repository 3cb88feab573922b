package rl

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"rlfit/internal/model"
)

// LandscapeResult holds the log likelihood of a batch over an alpha x beta
// grid. LogLikelihood[a][b] belongs to Alphas[a], Betas[b]. Likelihood is the
// same surface normalised to sum to one.
type LandscapeResult struct {
	Alphas        []float64   `json:"alphas"`
	Betas         []float64   `json:"betas"`
	LogLikelihood [][]float64 `json:"log_likelihood"`
	Likelihood    [][]float64 `json:"likelihood"`
}

// Landscape evaluates -Loss*nTrials, the summed log likelihood, at every
// grid point.
func Landscape(batch model.TrialBatch, alphas, betas []float64, opts Options) (LandscapeResult, error) {
	if err := batch.Validate(); err != nil {
		return LandscapeResult{}, err
	}
	if len(alphas) == 0 || len(betas) == 0 {
		return LandscapeResult{}, errors.New("landscape grid requires at least one alpha and one beta")
	}

	nTrials := float64(batch.NumTrials())
	flat := make([]float64, 0, len(alphas)*len(betas))
	ll := make([][]float64, len(alphas))
	for a, alpha := range alphas {
		ll[a] = make([]float64, len(betas))
		for b, beta := range betas {
			ll[a][b] = -Loss(batch, alpha, beta, opts) * nTrials
			flat = append(flat, ll[a][b])
		}
	}

	norm := floats.LogSumExp(flat)
	lik := make([][]float64, len(alphas))
	for a := range alphas {
		lik[a] = make([]float64, len(betas))
		for b := range betas {
			lik[a][b] = math.Exp(ll[a][b] - norm)
		}
	}

	return LandscapeResult{
		Alphas:        append([]float64(nil), alphas...),
		Betas:         append([]float64(nil), betas...),
		LogLikelihood: ll,
		Likelihood:    lik,
	}, nil
}

// Peak returns the grid point with the highest log likelihood.
func (r LandscapeResult) Peak() (alpha, beta, logLikelihood float64) {
	logLikelihood = math.Inf(-1)
	for a := range r.LogLikelihood {
		for b, v := range r.LogLikelihood[a] {
			if v > logLikelihood {
				alpha, beta, logLikelihood = r.Alphas[a], r.Betas[b], v
			}
		}
	}
	return alpha, beta, logLikelihood
}

// Arange returns start, start+step, ... up to but excluding stop.
func Arange(start, stop, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("arange step must be > 0, got %v", step)
	}
	if stop <= start {
		return []float64{}, nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}
