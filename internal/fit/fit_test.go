package fit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlfit/internal/logging"
	"rlfit/internal/model"
	"rlfit/internal/rl"
	"rlfit/internal/schedule"
)

func simulatedBatch(t *testing.T, seed int64, trueProb []float64, alpha, beta float64) model.TrialBatch {
	t.Helper()
	gen := schedule.NewGenerator(seed)
	r1, m1, m2, err := gen.Generate(trueProb)
	require.NoError(t, err)
	_, choiceProb, err := rl.NewSimulator(rl.DefaultOptions()).Simulate(r1, m1, m2, alpha, beta)
	require.NoError(t, err)
	return model.TrialBatch{
		Rewarded1: r1,
		Mag1:      m1,
		Mag2:      m2,
		Choice1:   rl.Binarize(choiceProb, gen.Rand.Float64),
	}
}

func TestParseVariant(t *testing.T) {
	for name, want := range map[string]Variant{
		"shared_alpha":     SharedAlpha,
		"same_alpha":       SharedAlpha,
		"":                 SharedAlpha,
		"Split":            SplitAlpha,
		"alpha_difference": SplitAlpha,
	} {
		got, err := ParseVariant(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseVariant("hierarchical")
	require.ErrorIs(t, err, ErrInvalidVariant)
	assert.Equal(t, "split_alpha", SplitAlpha.String())
	assert.Equal(t, []string{"alpha", "beta"}, SharedAlpha.ParamNames())
}

func TestFitSameAlphaStaysInBoundsAndIsDeterministic(t *testing.T) {
	batch := simulatedBatch(t, 11, schedule.Stable(80, 0.7), 0.4, 0.08)
	cfg := DefaultConfig()

	a, err := FitSameAlpha(batch, nil, cfg)
	require.NoError(t, err)
	b, err := FitSameAlpha(batch, rand.New(rand.NewSource(DefaultSeed)), cfg)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Params, b.Params); diff != "" {
		t.Fatalf("nil rng differs from seed 0 (-nil +seeded):\n%s", diff)
	}

	for _, name := range a.Params.Names {
		lo, hi, _ := cfg.Bounds.For(name)
		v := a.Params.Value(name)
		assert.True(t, v >= lo && v <= hi, "%s=%v", name, v)
	}
	assert.GreaterOrEqual(t, a.State.Iteration, 1)
	assert.InDelta(t, rl.Loss(batch, a.Params.Value("alpha"), a.Params.Value("beta"), cfg.Model), a.Loss, 1e-12)
}

func TestFitSameAlphaImprovesOnStart(t *testing.T) {
	batch := simulatedBatch(t, 5, schedule.Stable(120, 0.7), 0.3, 0.1)
	cfg := DefaultConfig()

	rng := rand.New(rand.NewSource(4))
	alpha0, beta0 := rng.Float64(), rng.Float64()
	start := rl.Loss(batch, alpha0, beta0, cfg.Model)

	res, err := FitSameAlpha(batch, rand.New(rand.NewSource(4)), cfg)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Loss, start)
}

func TestFitAlphaDifferenceUsesBothBlocks(t *testing.T) {
	volatileProb, err := schedule.Volatile(100, 0.8, 20)
	require.NoError(t, err)
	split := model.SplitBatch{
		Stable:   simulatedBatch(t, 1, schedule.Stable(100, 0.7), 0.2, 0.1),
		Volatile: simulatedBatch(t, 2, volatileProb, 0.7, 0.1),
	}
	cfg := DefaultConfig()
	res, err := FitAlphaDifference(split, nil, cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"alphaStable", "alphaVolatile", "beta"}, res.Params.Names)

	want := rl.Loss(split.Stable, res.Params.Value("alphaStable"), res.Params.Value("beta"), cfg.Model) +
		rl.Loss(split.Volatile, res.Params.Value("alphaVolatile"), res.Params.Value("beta"), cfg.Model)
	assert.InDelta(t, want, res.Loss, 1e-12)
}

func TestSingleInitMatchesSeedZero(t *testing.T) {
	batch := simulatedBatch(t, 21, schedule.Stable(60, 0.7), 0.5, 0.05)
	cfg := DefaultConfig()
	cfg.NInits = 1

	multi, err := FitWithMultipleInitialValues(context.Background(), batch, SharedAlpha, cfg)
	require.NoError(t, err)
	single, err := FitSameAlpha(batch, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, single.Params.Values, multi.Params.Values)
	assert.Equal(t, int64(0), multi.Seed)
}

func TestMultiStartIsIndependentOfWorkers(t *testing.T) {
	batch := simulatedBatch(t, 8, schedule.Stable(60, 0.7), 0.3, 0.1)
	cfg := DefaultConfig()
	cfg.NInits = 6

	cfg.Workers = 1
	serial, err := FitWithMultipleInitialValues(context.Background(), batch, SharedAlpha, cfg)
	require.NoError(t, err)
	cfg.Workers = 4
	parallel, err := FitWithMultipleInitialValues(context.Background(), batch, SharedAlpha, cfg)
	require.NoError(t, err)
	assert.Equal(t, serial.Params.Values, parallel.Params.Values)
	assert.Equal(t, serial.Seed, parallel.Seed)

	// The winner is never worse than any single seeded run.
	for seed := int64(0); seed < 6; seed++ {
		lane, err := FitSameAlpha(batch, rand.New(rand.NewSource(seed)), cfg)
		require.NoError(t, err)
		assert.LessOrEqual(t, serial.Loss, lane.Loss)
	}
}

func TestSelectBestTreatsNonFiniteAsWorst(t *testing.T) {
	lanes := []Result{
		{Loss: math.NaN(), Seed: 0},
		{Loss: 0.4, Seed: 1},
		{Loss: math.Inf(-1), Seed: 2},
		{Loss: 0.4, Seed: 3},
	}
	best, err := selectBest(lanes, SharedAlpha)
	require.NoError(t, err)
	assert.Equal(t, int64(1), best.Seed)

	_, err = selectBest([]Result{{Loss: math.NaN()}, {Loss: math.Inf(1)}}, SharedAlpha)
	require.ErrorIs(t, err, ErrDegenerateFit)
}

func TestInvalidVariantFailsBeforeWork(t *testing.T) {
	batch := simulatedBatch(t, 1, schedule.Stable(10, 0.7), 0.3, 0.1)
	_, err := FitWithMultipleInitialValues(context.Background(), batch, Variant(42), DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidVariant)

	_, err = FitMultipleParticipants(context.Background(), []model.Dataset{batch}, VariantInvalid, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidVariant)
}

func TestDatasetMustMatchVariant(t *testing.T) {
	batch := simulatedBatch(t, 1, schedule.Stable(10, 0.7), 0.3, 0.1)
	_, err := FitWithMultipleInitialValues(context.Background(), batch, SplitAlpha, DefaultConfig())
	require.ErrorIs(t, err, ErrDatasetMismatch)

	_, err = FitMultipleParticipants(context.Background(), []model.Dataset{batch, model.SplitBatch{Stable: batch, Volatile: batch}}, SharedAlpha, DefaultConfig())
	require.ErrorIs(t, err, ErrDatasetMismatch)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.NInits = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Bounds.BetaMax = -1
	require.ErrorIs(t, bad.Validate(), model.ErrInvalidBounds)

	bad = cfg
	bad.Model.StartingProb = 1.5
	require.Error(t, bad.Validate())
}

func TestIdenticalSubjectsFitIdentically(t *testing.T) {
	batch := simulatedBatch(t, 13, schedule.Stable(60, 0.7), 0.3, 0.1)
	cfg := DefaultConfig()
	cfg.NInits = 3

	pop, err := FitMultipleParticipants(context.Background(), SharedDatasets([]model.TrialBatch{batch, batch.Clone(), batch.Clone()}), SharedAlpha, cfg)
	require.NoError(t, err)
	require.Len(t, pop.Subjects, 3)
	require.Empty(t, pop.Failed())
	for i, s := range pop.Subjects {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, pop.Subjects[0].Result.Params.Values, s.Result.Params.Values)
	}
	params, losses := pop.Params(), pop.Losses()
	require.Len(t, params, 3)
	require.Len(t, losses, 3)
	assert.Equal(t, params[0].Values, params[2].Values)
	assert.Equal(t, losses[0], losses[1])
	assert.Equal(t, pop.Subjects[1].Result.Loss, losses[1])
}

func TestDegenerateSubjectIsIsolated(t *testing.T) {
	healthy := simulatedBatch(t, 3, schedule.Stable(40, 0.7), 0.3, 0.1)
	poisoned := healthy.Clone()
	poisoned.Mag1[5] = 77
	healthyOther := healthy.Clone()
	for i, m := range healthyOther.Mag1 {
		if m == 77 {
			healthyOther.Mag1[i] = 76
		}
	}

	cfg := DefaultConfig()
	cfg.NInits = 2
	cfg.Model.Utility = rl.Utility{
		Name: "poisoned",
		Func: func(mag, prob, _ float64) float64 {
			if mag == 77 {
				return math.NaN()
			}
			return mag * prob
		},
		DProb: func(mag, _, _ float64) float64 { return mag },
	}

	ctx := logging.NewTestLoggerIntoContext(context.Background())
	pop, err := FitMultipleParticipants(ctx, SharedDatasets([]model.TrialBatch{healthyOther, poisoned}), SharedAlpha, cfg)
	require.NoError(t, err)
	require.Equal(t, []int{1}, pop.Failed())
	assert.True(t, errors.Is(pop.Subjects[1].Err, ErrDegenerateFit))
	assert.True(t, math.IsNaN(pop.Subjects[1].Result.Params.Value("alpha")))
	assert.True(t, math.IsNaN(pop.Subjects[1].Result.Params.Value("beta")))

	require.NoError(t, pop.Subjects[0].Err)
	assert.False(t, math.IsNaN(pop.Subjects[0].Result.Loss))

	cfg.Model = rl.DefaultOptions()
	alone, err := FitWithMultipleInitialValues(context.Background(), healthyOther, SharedAlpha, cfg)
	require.NoError(t, err)
	assert.Equal(t, alone.Params.Values, pop.Subjects[0].Result.Params.Values)
}

func TestCancelledContextStopsPopulation(t *testing.T) {
	batch := simulatedBatch(t, 1, schedule.Stable(20, 0.7), 0.3, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FitMultipleParticipants(ctx, []model.Dataset{batch}, SharedAlpha, DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
}
