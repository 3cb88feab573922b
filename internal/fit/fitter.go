package fit

import (
	"math/rand"

	"rlfit/internal/model"
	"rlfit/internal/optim"
	"rlfit/internal/rl"
)

// DefaultSeed seeds the initial draw when the caller supplies no random
// source, which makes such calls deterministic.
const DefaultSeed int64 = 0

// Result is the outcome of one optimizer run.
type Result struct {
	Params model.Params `json:"params"`
	State  optim.State  `json:"state"`
	Loss   float64      `json:"loss"`
	Seed   int64        `json:"seed"`
}

// FitSameAlpha fits one learning rate and one inverse temperature to batch,
// starting from values drawn uniformly within cfg.Bounds.
func FitSameAlpha(batch model.TrialBatch, rng *rand.Rand, cfg Config) (Result, error) {
	if err := batch.Validate(); err != nil {
		return Result{}, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(DefaultSeed))
	}
	b := cfg.Bounds
	alpha := uniform(rng, b.AlphaMin, b.AlphaMax)
	beta := uniform(rng, b.BetaMin, b.BetaMax)
	init := model.NewParams(SharedAlpha.ParamNames(), []float64{alpha, beta})

	objective := func(x, grad []float64) float64 {
		loss, dAlpha, dBeta := rl.LossGrad(batch, x[0], x[1], cfg.Model)
		grad[0], grad[1] = dAlpha, dBeta
		return loss
	}
	final, state, err := optim.Minimize(objective, init, cfg.Bounds, cfg.Optimizer)
	if err != nil {
		return Result{}, err
	}
	loss := rl.Loss(batch, final.Values[0], final.Values[1], cfg.Model)
	return Result{Params: final, State: state, Loss: loss}, nil
}

// FitAlphaDifference fits the stable and volatile blocks of split together:
// each block has its own learning rate, beta is shared, and the objective is
// the sum of the two block losses.
func FitAlphaDifference(split model.SplitBatch, rng *rand.Rand, cfg Config) (Result, error) {
	if err := split.Validate(); err != nil {
		return Result{}, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(DefaultSeed))
	}
	b := cfg.Bounds
	alphaStable := uniform(rng, b.AlphaMin, b.AlphaMax)
	alphaVolatile := uniform(rng, b.AlphaMin, b.AlphaMax)
	beta := uniform(rng, b.BetaMin, b.BetaMax)
	init := model.NewParams(SplitAlpha.ParamNames(), []float64{alphaStable, alphaVolatile, beta})

	objective := func(x, grad []float64) float64 {
		lossStable, dAlphaStable, dBetaStable := rl.LossGrad(split.Stable, x[0], x[2], cfg.Model)
		lossVolatile, dAlphaVolatile, dBetaVolatile := rl.LossGrad(split.Volatile, x[1], x[2], cfg.Model)
		grad[0] = dAlphaStable
		grad[1] = dAlphaVolatile
		grad[2] = dBetaStable + dBetaVolatile
		return lossStable + lossVolatile
	}
	final, state, err := optim.Minimize(objective, init, cfg.Bounds, cfg.Optimizer)
	if err != nil {
		return Result{}, err
	}
	loss := rl.Loss(split.Stable, final.Values[0], final.Values[2], cfg.Model) +
		rl.Loss(split.Volatile, final.Values[1], final.Values[2], cfg.Model)
	return Result{Params: final, State: state, Loss: loss}, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
