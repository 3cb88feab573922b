package fit

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"rlfit/internal/logging"
	"rlfit/internal/model"
)

// FitWithMultipleInitialValues runs cfg.NInits independent fits of variant on
// data, lane i seeded with i, and returns the lane with the lowest loss.
// Non-finite losses rank as +Inf and ties keep the lowest seed, so the
// result does not depend on cfg.Workers.
func FitWithMultipleInitialValues(ctx context.Context, data model.Dataset, variant Variant, cfg Config) (Result, error) {
	if err := variant.Validate(); err != nil {
		return Result{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if err := variant.CheckDataset(data); err != nil {
		return Result{}, err
	}
	lanes, err := runLanes(ctx, data, variant, cfg)
	if err != nil {
		return Result{}, err
	}
	return selectBest(lanes, variant)
}

func runLanes(ctx context.Context, data model.Dataset, variant Variant, cfg Config) ([]Result, error) {
	log := logr.FromContextOrDiscard(ctx)
	results := make([]Result, cfg.NInits)
	errs := make([]error, cfg.NInits)

	p := pool.New().WithMaxGoroutines(cfg.workers(cfg.NInits))
	for i := 0; i < cfg.NInits; i++ {
		p.Go(func() {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			seed := int64(i)
			res, err := variant.fit(data, rand.New(rand.NewSource(seed)), cfg)
			if err != nil {
				errs[i] = fmt.Errorf("init %d: %w", i, err)
				return
			}
			res.Seed = seed
			results[i] = res
			log.V(logging.TRACE).Info("init finished", "variant", variant.String(), "seed", seed, "loss", res.Loss, "iterations", res.State.Iteration)
		})
	}
	p.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func selectBest(lanes []Result, variant Variant) (Result, error) {
	best := -1
	bestLoss := math.Inf(1)
	for i, lane := range lanes {
		loss := lane.Loss
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			loss = math.Inf(1)
		}
		if best < 0 || loss < bestLoss {
			best = i
			bestLoss = loss
		}
	}
	if best < 0 || math.IsInf(bestLoss, 1) {
		return Result{
			Params: model.NaNParams(variant.ParamNames()),
			Loss:   math.NaN(),
		}, ErrDegenerateFit
	}
	return lanes[best], nil
}
