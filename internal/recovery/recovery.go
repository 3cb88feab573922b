// Package recovery simulates subjects with known parameters, fits them back
// and tabulates simulated against recovered values.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/go-logr/logr"

	"rlfit/internal/fit"
	"rlfit/internal/logging"
	"rlfit/internal/model"
	"rlfit/internal/rl"
)

type ScheduleGenerator interface {
	Generate(trueProb []float64) (rewarded1, mag1, mag2 []float64, err error)
}

type Simulator interface {
	Simulate(rewarded1, mag1, mag2 []float64, alpha, beta float64) (probOpt1, choiceProb1 []float64, err error)
}

// SplitSubjects lists the true parameters of each simulated subject for a
// split-alpha recovery. The three slices are indexed by subject.
type SplitSubjects struct {
	AlphaStable   []float64 `json:"alpha_stable" yaml:"alpha_stable"`
	AlphaVolatile []float64 `json:"alpha_volatile" yaml:"alpha_volatile"`
	Beta          []float64 `json:"beta" yaml:"beta"`
}

func (s SplitSubjects) Len() int { return len(s.Beta) }

func (s SplitSubjects) Validate() error {
	n := len(s.Beta)
	if n == 0 {
		return errors.New("no split subjects to simulate")
	}
	if len(s.AlphaStable) != n || len(s.AlphaVolatile) != n {
		return fmt.Errorf("split subjects differ in length: alpha_stable=%d alpha_volatile=%d beta=%d",
			len(s.AlphaStable), len(s.AlphaVolatile), n)
	}
	return nil
}

// RunGrid simulates one subject per point of alphas x betas, alpha-major,
// fits all of them with the shared-alpha model and returns one row per grid
// point in the same order.
func RunGrid(ctx context.Context, alphas, betas []float64, sched ScheduleGenerator, sim Simulator, trueProb []float64, rng *rand.Rand, cfg fit.Config) ([]model.RecoveryRecord, error) {
	if len(alphas) == 0 || len(betas) == 0 {
		return nil, errors.New("recovery grid needs at least one alpha and one beta")
	}
	if err := checkCollaborators(sched, sim, rng); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logr.FromContextOrDiscard(ctx)

	n := len(alphas) * len(betas)
	records := make([]model.RecoveryRecord, 0, n)
	batches := make([]model.TrialBatch, 0, n)
	for _, alpha := range alphas {
		for _, beta := range betas {
			batch, err := simulateSubject(sched, sim, trueProb, alpha, beta, rng)
			if err != nil {
				return nil, fmt.Errorf("subject %d: %w", len(records), err)
			}
			records = append(records, model.RecoveryRecord{
				Subject:        len(records),
				SimulatedAlpha: alpha,
				SimulatedBeta:  beta,
			})
			batches = append(batches, batch)
		}
	}
	log.V(logging.DEBUG).Info("simulated recovery grid", "subjects", n, "trials", len(trueProb))

	pop, err := fit.FitMultipleParticipants(ctx, fit.SharedDatasets(batches), fit.SharedAlpha, cfg)
	if err != nil {
		return nil, err
	}
	params, losses := pop.Params(), pop.Losses()
	for i, s := range pop.Subjects {
		records[i].RecoveredAlpha = params[i].Value(model.ParamAlpha)
		records[i].RecoveredBeta = params[i].Value(model.ParamBeta)
		records[i].Loss = losses[i]
		records[i].Failed = s.Err != nil
	}
	log.V(logging.DEBUG).Info("recovered grid", "subjects", n, "failed", len(pop.Failed()))
	return records, nil
}

// RunSplit simulates one subject per entry of subjects, with a stable and a
// volatile block each, and fits them with the split-alpha model.
func RunSplit(ctx context.Context, subjects SplitSubjects, sched ScheduleGenerator, sim Simulator, trueProbStable, trueProbVolatile []float64, rng *rand.Rand, cfg fit.Config) ([]model.SplitRecoveryRecord, error) {
	if err := subjects.Validate(); err != nil {
		return nil, err
	}
	if err := checkCollaborators(sched, sim, rng); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logr.FromContextOrDiscard(ctx)

	n := subjects.Len()
	records := make([]model.SplitRecoveryRecord, n)
	batches := make([]model.SplitBatch, n)
	for p := 0; p < n; p++ {
		alphaStable, alphaVolatile, beta := subjects.AlphaStable[p], subjects.AlphaVolatile[p], subjects.Beta[p]
		stable, err := simulateSubject(sched, sim, trueProbStable, alphaStable, beta, rng)
		if err != nil {
			return nil, fmt.Errorf("subject %d stable block: %w", p, err)
		}
		volatile, err := simulateSubject(sched, sim, trueProbVolatile, alphaVolatile, beta, rng)
		if err != nil {
			return nil, fmt.Errorf("subject %d volatile block: %w", p, err)
		}
		batches[p] = model.SplitBatch{Stable: stable, Volatile: volatile}
		records[p] = model.SplitRecoveryRecord{
			Subject:                p,
			SimulatedAlphaStable:   alphaStable,
			SimulatedAlphaVolatile: alphaVolatile,
			SimulatedBeta:          beta,
		}
	}
	log.V(logging.DEBUG).Info("simulated split subjects", "subjects", n)

	pop, err := fit.FitMultipleParticipants(ctx, fit.SplitDatasets(batches), fit.SplitAlpha, cfg)
	if err != nil {
		return nil, err
	}
	params, losses := pop.Params(), pop.Losses()
	for i, s := range pop.Subjects {
		records[i].RecoveredAlphaStable = params[i].Value(model.ParamAlphaStable)
		records[i].RecoveredAlphaVolatile = params[i].Value(model.ParamAlphaVolatile)
		records[i].RecoveredBeta = params[i].Value(model.ParamBeta)
		records[i].Loss = losses[i]
		records[i].Failed = s.Err != nil
	}
	return records, nil
}

func checkCollaborators(sched ScheduleGenerator, sim Simulator, rng *rand.Rand) error {
	switch {
	case sched == nil:
		return errors.New("schedule generator is required")
	case sim == nil:
		return errors.New("simulator is required")
	case rng == nil:
		return errors.New("random source is required")
	}
	return nil
}

// simulateSubject draws a schedule, runs the model forward and binarises the
// choice probabilities with one uniform draw per trial.
func simulateSubject(sched ScheduleGenerator, sim Simulator, trueProb []float64, alpha, beta float64, rng *rand.Rand) (model.TrialBatch, error) {
	rewarded1, mag1, mag2, err := sched.Generate(trueProb)
	if err != nil {
		return model.TrialBatch{}, err
	}
	_, choiceProb1, err := sim.Simulate(rewarded1, mag1, mag2, alpha, beta)
	if err != nil {
		return model.TrialBatch{}, err
	}
	for t, p := range choiceProb1 {
		if math.IsNaN(p) {
			return model.TrialBatch{}, fmt.Errorf("choice probability[%d] is NaN for alpha=%v beta=%v", t, alpha, beta)
		}
	}
	batch := model.TrialBatch{
		Rewarded1: rewarded1,
		Mag1:      mag1,
		Mag2:      mag2,
		Choice1:   rl.Binarize(choiceProb1, rng.Float64),
	}
	return batch, batch.Validate()
}
