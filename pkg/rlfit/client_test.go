package rlfit

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlfit/internal/config"
	"rlfit/internal/dataio"
	"rlfit/internal/fit"
	"rlfit/internal/model"
	"rlfit/internal/recovery"
	"rlfit/internal/rl"
	"rlfit/internal/schedule"
	"rlfit/internal/storage"
)

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func quickFit(variant string) config.FitConfig {
	f := config.Default().Fit
	f.Variant = variant
	f.NInits = 2
	f.MaxIter = 20
	return f
}

func simulatedBlock(t *testing.T, gen *schedule.Generator, rng *rand.Rand, trueProb []float64, alpha, beta float64) model.TrialBatch {
	t.Helper()
	rewarded1, mag1, mag2, err := gen.Generate(trueProb)
	require.NoError(t, err)
	_, choiceProb1, err := rl.NewSimulator(rl.DefaultOptions()).Simulate(rewarded1, mag1, mag2, alpha, beta)
	require.NoError(t, err)
	return model.TrialBatch{
		Rewarded1: rewarded1,
		Mag1:      mag1,
		Mag2:      mag2,
		Choice1:   rl.Binarize(choiceProb1, rng.Float64),
	}
}

// writeTrialsFile writes two blocked subjects of 30 stable and 30 volatile
// trials each and returns the file path.
func writeTrialsFile(t *testing.T, dir string) string {
	t.Helper()
	gen := schedule.NewGenerator(3)
	rng := rand.New(rand.NewSource(4))
	volatile, err := schedule.Volatile(30, 0.8, 10)
	require.NoError(t, err)

	var subjects []dataio.SubjectTrials
	for _, id := range []string{"s01", "s02"} {
		subjects = append(subjects, dataio.SubjectTrials{
			ID:       id,
			Stable:   simulatedBlock(t, gen, rng, schedule.Stable(30, 0.7), 0.3, 0.1),
			Volatile: simulatedBlock(t, gen, rng, volatile, 0.6, 0.1),
		})
	}

	path := filepath.Join(dir, "trials.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dataio.WriteTrialsCSV(f, subjects))
	return path
}

func TestClientFitRunsAndExport(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	ctx := context.Background()
	dataPath := writeTrialsFile(t, base)

	summary, err := client.Fit(ctx, FitRequest{DataPath: dataPath, Fit: quickFit("shared")})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	assert.Equal(t, fit.SharedAlpha.String(), summary.Variant)
	assert.Equal(t, []string{model.ParamAlpha, model.ParamBeta}, summary.ParamNames)
	assert.Equal(t, 120, summary.Trials)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Subjects, 2)
	assert.Equal(t, "s01", summary.Subjects[0].Subject)
	assert.Equal(t, "s02", summary.Subjects[1].Subject)
	for _, s := range summary.Subjects {
		assert.Empty(t, s.Error)
		assert.Contains(t, s.Params, model.ParamAlpha)
		assert.Contains(t, s.Params, model.ParamBeta)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, model.RunKindFit, runs[0].Kind)
	assert.Equal(t, 2, runs[0].Subjects)

	results, err := client.Results(ctx, ResultsRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, results.Run.ID)
	if diff := cmp.Diff(summary.Subjects, results.SubjectFits, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("stored fits mismatch (-want +got):\n%s", diff)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	for _, name := range []string{"config.json", "fits.json", "fits.csv"} {
		_, err := os.Stat(filepath.Join(exported.Directory, name))
		assert.NoError(t, err, name)
	}
}

func TestClientFitSplitVariant(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)

	summary, err := client.Fit(context.Background(), FitRequest{
		DataPath: writeTrialsFile(t, base),
		Fit:      quickFit("split_alpha"),
	})
	require.NoError(t, err)
	assert.Equal(t, fit.SplitAlpha.ParamNames(), summary.ParamNames)
	require.Len(t, summary.Subjects, 2)
	for _, s := range summary.Subjects {
		assert.Len(t, s.Params, 3)
	}
}

func TestClientFitRejectsUnknownVariant(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)

	_, err := client.Fit(context.Background(), FitRequest{
		DataPath: writeTrialsFile(t, base),
		Fit:      quickFit("hierarchical"),
	})
	require.ErrorIs(t, err, fit.ErrInvalidVariant)
}

func TestClientRecoverIsReproducible(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	ctx := context.Background()
	req := RecoverRequest{
		Fit:             quickFit("shared"),
		Alphas:          []float64{0.2, 0.6},
		Betas:           []float64{0.1},
		Trials:          40,
		TrueProbability: 0.7,
		Seed:            11,
	}

	first, err := client.Recover(ctx, req)
	require.NoError(t, err)
	second, err := client.Recover(ctx, req)
	require.NoError(t, err)

	require.Len(t, first.Records, 2)
	assert.NotEqual(t, first.RunID, second.RunID)
	if diff := cmp.Diff(first.Records, second.Records, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("same seed produced different records (-first +second):\n%s", diff)
	}
	require.Len(t, first.Summary, 2)
	assert.Equal(t, model.ParamAlpha, first.Summary[0].Param)

	results, err := client.Results(ctx, ResultsRequest{RunID: first.RunID})
	require.NoError(t, err)
	assert.Equal(t, model.RunKindRecovery, results.Run.Kind)
	assert.Len(t, results.Recovery, 2)
}

func TestClientRecoverRejectsEmptyTrials(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	_, err := client.Recover(context.Background(), RecoverRequest{
		Fit:    quickFit("shared"),
		Alphas: []float64{0.2},
		Betas:  []float64{0.1},
	})
	require.Error(t, err)
}

func TestClientRecoverSplit(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)

	summary, err := client.RecoverSplit(context.Background(), RecoverSplitRequest{
		Fit: quickFit("split"),
		Subjects: recovery.SplitSubjects{
			AlphaStable:   []float64{0.2, 0.3},
			AlphaVolatile: []float64{0.6, 0.7},
			Beta:          []float64{0.1, 0.1},
		},
		Trials:          40,
		TrueProbability: 0.8,
		VolatileBlock:   10,
		Seed:            5,
	})
	require.NoError(t, err)
	require.Len(t, summary.Records, 2)
	assert.Equal(t, 0.6, summary.Records[0].SimulatedAlphaVolatile)
	assert.Len(t, summary.Summary, 3)

	_, err = os.Stat(filepath.Join(summary.ArtifactsDir, "split_recovery.csv"))
	assert.NoError(t, err)
}

func TestClientResultsFallsBackToArtifacts(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	first := newTestClient(t, base)
	summary, err := first.Fit(ctx, FitRequest{DataPath: writeTrialsFile(t, base), Fit: quickFit("shared")})
	require.NoError(t, err)

	// A fresh memory store knows nothing about the run.
	second := newTestClient(t, base)
	results, err := second.Results(ctx, ResultsRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, model.RunKindFit, results.Run.Kind)
	assert.Equal(t, 2, results.Run.Subjects)
	require.Len(t, results.SubjectFits, 2)
	assert.Equal(t, "s02", results.SubjectFits[1].Subject)

	_, err = second.Results(ctx, ResultsRequest{RunID: "missing"})
	require.Error(t, err)
}

func TestClientLandscape(t *testing.T) {
	base := t.TempDir()
	client := newTestClient(t, base)
	dataPath := writeTrialsFile(t, base)

	res, err := client.Landscape(context.Background(), LandscapeRequest{
		DataPath:  dataPath,
		Subject:   "s02",
		AlphaStep: 0.25,
		BetaStep:  0.5,
		Fit:       quickFit("shared"),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, res.Alphas)
	assert.Equal(t, []float64{0, 0.5}, res.Betas)
	require.Len(t, res.LogLikelihood, 4)

	_, err = client.Landscape(context.Background(), LandscapeRequest{
		DataPath: dataPath,
		Subject:  "nobody",
		Fit:      quickFit("shared"),
	})
	require.Error(t, err)
}

func TestClientRunSelection(t *testing.T) {
	client := newTestClient(t, t.TempDir())
	ctx := context.Background()

	_, err := client.Export(ctx, ExportRequest{RunID: "x", Latest: true})
	require.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{})
	require.Error(t, err)
	_, err = client.Results(ctx, ResultsRequest{Latest: true})
	require.Error(t, err)

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestClientRunsMergesStoreAndIndex(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	first := newTestClient(t, base)
	summary, err := first.Fit(ctx, FitRequest{DataPath: writeTrialsFile(t, base), Fit: quickFit("shared")})
	require.NoError(t, err)

	runs, err := first.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)

	// The second client's store holds a run the index has never seen, and
	// only the index knows the first client's run.
	second := newTestClient(t, base)
	store, err := second.ensureStore(ctx)
	require.NoError(t, err)
	storeOnly := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              "recovery-store-only",
		Kind:            model.RunKindRecovery,
		CreatedAtUTC:    "2999-01-01T00:00:00.000000000Z",
		Variant:         fit.SharedAlpha.String(),
		Subjects:        4,
		NInits:          3,
	}
	require.NoError(t, store.SaveRun(ctx, storeOnly))

	runs, err = second.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, storeOnly.ID, runs[0].RunID)
	assert.Equal(t, 4, runs[0].Subjects)
	assert.Equal(t, summary.RunID, runs[1].RunID)

	runs, err = second.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storeOnly.ID, runs[0].RunID)
}
