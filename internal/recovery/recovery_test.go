package recovery

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlfit/internal/fit"
	"rlfit/internal/model"
	"rlfit/internal/rl"
	"rlfit/internal/schedule"
)

func quickConfig() fit.Config {
	cfg := fit.DefaultConfig()
	cfg.NInits = 2
	cfg.Optimizer.MaxIter = 20
	return cfg
}

func TestRunGridRowsFollowGridOrder(t *testing.T) {
	alphas := []float64{0.1, 0.5, 0.9}
	betas := []float64{0.05, 0.2}
	records, err := RunGrid(context.Background(), alphas, betas,
		schedule.NewGenerator(1), rl.NewSimulator(rl.DefaultOptions()),
		schedule.Stable(40, 0.7), rand.New(rand.NewSource(2)), quickConfig())
	require.NoError(t, err)
	require.Len(t, records, 6)

	i := 0
	for _, alpha := range alphas {
		for _, beta := range betas {
			r := records[i]
			assert.Equal(t, i, r.Subject)
			assert.Equal(t, alpha, r.SimulatedAlpha)
			assert.Equal(t, beta, r.SimulatedBeta)
			assert.False(t, r.Failed)
			assert.True(t, r.RecoveredAlpha >= 0 && r.RecoveredAlpha <= 1)
			assert.True(t, r.RecoveredBeta >= 0 && r.RecoveredBeta <= 1)
			i++
		}
	}
}

func TestRunGridRecoversKnownParameters(t *testing.T) {
	records, err := RunGrid(context.Background(), []float64{0.3}, []float64{0.1},
		schedule.NewGenerator(0), rl.NewSimulator(rl.DefaultOptions()),
		schedule.Stable(100, 0.7), rand.New(rand.NewSource(1000)), fit.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	require.False(t, r.Failed)
	assert.InDelta(t, 0.3, r.RecoveredAlpha, 0.15)
	assert.InDelta(t, 0.1, r.RecoveredBeta, 0.15)
}

func TestRunSplitFitsBothBlocks(t *testing.T) {
	volatile, err := schedule.Volatile(60, 0.8, 15)
	require.NoError(t, err)
	subjects := SplitSubjects{
		AlphaStable:   []float64{0.2, 0.3},
		AlphaVolatile: []float64{0.6, 0.7},
		Beta:          []float64{0.1, 0.08},
	}
	records, err := RunSplit(context.Background(), subjects,
		schedule.NewGenerator(5), rl.NewSimulator(rl.DefaultOptions()),
		schedule.Stable(60, 0.7), volatile, rand.New(rand.NewSource(6)), quickConfig())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for p, r := range records {
		assert.Equal(t, p, r.Subject)
		assert.Equal(t, subjects.AlphaStable[p], r.SimulatedAlphaStable)
		assert.Equal(t, subjects.AlphaVolatile[p], r.SimulatedAlphaVolatile)
		assert.Equal(t, subjects.Beta[p], r.SimulatedBeta)
		assert.False(t, r.Failed)
		assert.False(t, math.IsNaN(r.Loss))
		assert.True(t, r.RecoveredAlphaStable >= 0 && r.RecoveredAlphaStable <= 1)
		assert.True(t, r.RecoveredAlphaVolatile >= 0 && r.RecoveredAlphaVolatile <= 1)
	}
}

func TestRunSplitRejectsRaggedSubjects(t *testing.T) {
	_, err := RunSplit(context.Background(), SplitSubjects{
		AlphaStable:   []float64{0.2},
		AlphaVolatile: []float64{0.6, 0.7},
		Beta:          []float64{0.1, 0.1},
	}, schedule.NewGenerator(1), rl.NewSimulator(rl.DefaultOptions()),
		schedule.Stable(10, 0.7), schedule.Stable(10, 0.7), rand.New(rand.NewSource(1)), quickConfig())
	require.Error(t, err)
}

type failingSchedule struct{}

func (failingSchedule) Generate([]float64) ([]float64, []float64, []float64, error) {
	return nil, nil, nil, errors.New("no schedule")
}

func TestRunGridPropagatesCollaboratorErrors(t *testing.T) {
	sim := rl.NewSimulator(rl.DefaultOptions())
	rng := rand.New(rand.NewSource(1))
	probs := schedule.Stable(10, 0.7)

	_, err := RunGrid(context.Background(), []float64{0.3}, []float64{0.1}, failingSchedule{}, sim, probs, rng, quickConfig())
	require.ErrorContains(t, err, "no schedule")

	_, err = RunGrid(context.Background(), []float64{0.3}, []float64{0.1}, nil, sim, probs, rng, quickConfig())
	require.Error(t, err)

	_, err = RunGrid(context.Background(), nil, []float64{0.1}, schedule.NewGenerator(1), sim, probs, rng, quickConfig())
	require.Error(t, err)

	bad := quickConfig()
	bad.NInits = 0
	_, err = RunGrid(context.Background(), []float64{0.3}, []float64{0.1}, schedule.NewGenerator(1), sim, probs, rng, bad)
	require.Error(t, err)
}

func TestSummarizeSkipsFailedRows(t *testing.T) {
	records := []model.RecoveryRecord{
		{SimulatedAlpha: 0.1, RecoveredAlpha: 0.2, SimulatedBeta: 0.1, RecoveredBeta: 0.1},
		{SimulatedAlpha: 0.5, RecoveredAlpha: 0.6, SimulatedBeta: 0.2, RecoveredBeta: 0.2},
		{SimulatedAlpha: 0.9, RecoveredAlpha: 1.0, SimulatedBeta: 0.3, RecoveredBeta: 0.3},
		{SimulatedAlpha: 0.9, RecoveredAlpha: math.NaN(), SimulatedBeta: 0.3, RecoveredBeta: math.NaN(), Failed: true},
	}
	got := Summarize(records)
	require.Len(t, got, 2)

	alpha := got[0]
	assert.Equal(t, "alpha", alpha.Param)
	assert.Equal(t, 3, alpha.N)
	assert.InDelta(t, 1, alpha.Correlation, 1e-9)
	assert.InDelta(t, 0.1, alpha.Bias, 1e-9)
	assert.InDelta(t, 0.1, alpha.RMSE, 1e-9)

	beta := got[1]
	assert.InDelta(t, 0, beta.Bias, 1e-12)
	assert.InDelta(t, 0, beta.RMSE, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	got := SummarizeSplit(nil)
	require.Len(t, got, 3)
	for _, s := range got {
		assert.Equal(t, 0, s.N)
		assert.True(t, math.IsNaN(s.RMSE))
	}
}
