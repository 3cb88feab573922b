package fit

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"rlfit/internal/logging"
	"rlfit/internal/model"
)

// SubjectFit is one subject's multi-start outcome. Err is set when the
// subject's fit failed, in which case Result carries NaN parameters.
type SubjectFit struct {
	Index  int    `json:"index"`
	Result Result `json:"result"`
	Err    error  `json:"-"`
}

type PopulationResult struct {
	Variant  Variant      `json:"-"`
	Subjects []SubjectFit `json:"subjects"`
}

// Failed lists the indices of subjects whose fit failed.
func (r PopulationResult) Failed() []int {
	var out []int
	for _, s := range r.Subjects {
		if s.Err != nil {
			out = append(out, s.Index)
		}
	}
	return out
}

func (r PopulationResult) Params() []model.Params {
	out := make([]model.Params, len(r.Subjects))
	for i, s := range r.Subjects {
		out[i] = s.Result.Params
	}
	return out
}

func (r PopulationResult) Losses() []float64 {
	out := make([]float64, len(r.Subjects))
	for i, s := range r.Subjects {
		out[i] = s.Result.Loss
	}
	return out
}

// SharedDatasets wraps trial batches for FitMultipleParticipants.
func SharedDatasets(batches []model.TrialBatch) []model.Dataset {
	out := make([]model.Dataset, len(batches))
	for i, b := range batches {
		out[i] = b
	}
	return out
}

func SplitDatasets(batches []model.SplitBatch) []model.Dataset {
	out := make([]model.Dataset, len(batches))
	for i, b := range batches {
		out[i] = b
	}
	return out
}

// FitMultipleParticipants runs FitWithMultipleInitialValues once per subject.
// Configuration and dataset problems fail the whole call before any fitting.
// A subject whose every initialisation diverges is reported through its
// SubjectFit and does not affect the others.
func FitMultipleParticipants(ctx context.Context, data []model.Dataset, variant Variant, cfg Config) (PopulationResult, error) {
	if err := variant.Validate(); err != nil {
		return PopulationResult{}, err
	}
	if err := cfg.Validate(); err != nil {
		return PopulationResult{}, err
	}
	if len(data) == 0 {
		return PopulationResult{}, errors.New("no subjects to fit")
	}
	for i, d := range data {
		if err := variant.CheckDataset(d); err != nil {
			return PopulationResult{}, fmt.Errorf("subject %d: %w", i, err)
		}
	}

	log := logr.FromContextOrDiscard(ctx)
	workers := cfg.workers(len(data))
	inner := cfg
	inner.Workers = cfg.workers(cfg.NInits) / workers
	if inner.Workers < 1 {
		inner.Workers = 1
	}

	subjects := make([]SubjectFit, len(data))
	p := pool.New().WithMaxGoroutines(workers)
	for i := range data {
		p.Go(func() {
			subjects[i].Index = i
			if err := ctx.Err(); err != nil {
				subjects[i].Err = err
				return
			}
			lanes, err := runLanes(ctx, data[i], variant, inner)
			if err != nil {
				subjects[i].Err = err
				return
			}
			res, err := selectBest(lanes, variant)
			subjects[i].Result = res
			if err != nil {
				subjects[i].Err = err
				log.Info("subject fit failed", "subject", i, "variant", variant.String(), "error", err.Error())
				return
			}
			log.V(logging.DEBUG).Info("subject fitted", "subject", i, "loss", res.Loss, "params", res.Params.String())
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return PopulationResult{}, err
	}
	return PopulationResult{Variant: variant, Subjects: subjects}, nil
}
