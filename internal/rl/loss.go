package rl

import (
	"fmt"
	"math"

	"rlfit/internal/model"
)

const DefaultStartingProb = 0.5

// Options carries the fixed, non-fitted parts of the choice model.
type Options struct {
	StartingProb float64
	Utility      Utility
	Omega        float64
}

func DefaultOptions() Options {
	return Options{
		StartingProb: DefaultStartingProb,
		Utility:      DefaultUtility(),
	}
}

func (o Options) utility() Utility {
	if o.Utility.Func == nil || o.Utility.DProb == nil {
		return DefaultUtility()
	}
	return o.Utility
}

// Loss is the mean binary cross-entropy between the model's choice
// probabilities and the observed choices of one batch.
func Loss(batch model.TrialBatch, alpha, beta float64, opts Options) float64 {
	u := opts.utility()
	probOpt1 := Beliefs(batch.Rewarded1, alpha, opts.StartingProb)

	n := len(probOpt1)
	if n == 0 {
		return 0
	}
	total := 0.0
	for t, p := range probOpt1 {
		utility1 := u.Func(batch.Mag1[t], p, opts.Omega)
		utility2 := u.Func(batch.Mag2[t], 1-p, opts.Omega)
		total += sigmoidBinaryCrossEntropy(beta*(utility1-utility2), batch.Choice1[t])
	}
	return total / float64(n)
}

// LossGrad returns Loss together with its partial derivatives with respect to
// alpha and beta.
func LossGrad(batch model.TrialBatch, alpha, beta float64, opts Options) (loss, dAlpha, dBeta float64) {
	u := opts.utility()
	probOpt1, dProb := BeliefsWithSensitivity(batch.Rewarded1, alpha, opts.StartingProb)

	n := len(probOpt1)
	if n == 0 {
		return 0, 0, 0
	}
	for t, p := range probOpt1 {
		utility1 := u.Func(batch.Mag1[t], p, opts.Omega)
		utility2 := u.Func(batch.Mag2[t], 1-p, opts.Omega)
		diff := utility1 - utility2
		logit := beta * diff
		y := batch.Choice1[t]

		loss += sigmoidBinaryCrossEntropy(logit, y)
		residual := sigmoid(logit) - y
		dBeta += residual * diff
		// utility2 depends on 1-p, hence the sum of both partials.
		dDiff := u.DProb(batch.Mag1[t], p, opts.Omega) + u.DProb(batch.Mag2[t], 1-p, opts.Omega)
		dAlpha += residual * beta * dDiff * dProb[t]
	}
	scale := 1 / float64(n)
	return loss * scale, dAlpha * scale, dBeta * scale
}

// BatchLoss evaluates Loss for many subjects at once, each with its own
// alpha and beta.
func BatchLoss(batches []model.TrialBatch, alphas, betas []float64, opts Options) ([]float64, error) {
	if len(alphas) != len(batches) || len(betas) != len(batches) {
		return nil, fmt.Errorf("batch loss: %d batches, %d alphas, %d betas", len(batches), len(alphas), len(betas))
	}
	out := make([]float64, len(batches))
	for i, b := range batches {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("batch loss subject %d: %w", i, err)
		}
		out[i] = Loss(b, alphas[i], betas[i], opts)
	}
	return out, nil
}

// ChoiceProb is the probability of choosing option 1 given the two utilities.
func ChoiceProb(utility1, utility2, beta float64) float64 {
	return sigmoid(beta * (utility1 - utility2))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// sigmoidBinaryCrossEntropy is -[y*log(sigmoid(z)) + (1-y)*log(1-sigmoid(z))]
// in a form that does not overflow for large |z|.
func sigmoidBinaryCrossEntropy(z, y float64) float64 {
	return math.Max(z, 0) - y*z + math.Log1p(math.Exp(-math.Abs(z)))
}
