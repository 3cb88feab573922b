// Package rlfit is the programmatic entry point for fitting choice models,
// running parameter recovery and browsing past runs.
package rlfit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"

	"rlfit/internal/config"
	"rlfit/internal/dataio"
	"rlfit/internal/fit"
	"rlfit/internal/logging"
	"rlfit/internal/model"
	"rlfit/internal/recovery"
	"rlfit/internal/rl"
	"rlfit/internal/schedule"
	"rlfit/internal/stats"
	"rlfit/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "rlfit.db"

	// createdAtLayout is fixed width so that timestamps sort as strings.
	createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
}

type Client struct {
	mu          sync.Mutex
	store       storage.Store
	initialized bool

	artifactsDir string
	exportsDir   string
	now          func() time.Time
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		now:          time.Now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureStore(ctx)
	return err
}

// ensureStore initialises the store on first use. Later calls return the
// same store without touching its contents.
func (c *Client) ensureStore(ctx context.Context) (storage.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return c.store, nil
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	c.initialized = true
	return c.store, nil
}

type FitRequest struct {
	DataPath string
	Fit      config.FitConfig
}

type FitSummary struct {
	RunID        string
	ArtifactsDir string
	Variant      string
	ParamNames   []string
	Trials       int
	Subjects     []model.SubjectFitRecord
	Failed       int
}

// Fit loads subject trials from a CSV file and fits every subject with the
// configured variant.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	variant, err := fit.ParseVariant(req.Fit.Variant)
	if err != nil {
		return FitSummary{}, err
	}
	cfg, err := req.Fit.ToFit()
	if err != nil {
		return FitSummary{}, err
	}
	file, err := dataio.LoadTrialsCSV(req.DataPath)
	if err != nil {
		return FitSummary{}, err
	}

	var datasets []model.Dataset
	switch variant {
	case fit.SharedAlpha:
		datasets = file.SharedDatasets()
	case fit.SplitAlpha:
		datasets, err = file.SplitDatasets()
		if err != nil {
			return FitSummary{}, err
		}
	}

	pop, err := fit.FitMultipleParticipants(ctx, datasets, variant, cfg)
	if err != nil {
		return FitSummary{}, err
	}

	ids := file.SubjectIDs()
	fits := make([]model.SubjectFitRecord, len(pop.Subjects))
	for i, s := range pop.Subjects {
		fits[i] = model.SubjectFitRecord{
			Subject:    ids[s.Index],
			Params:     s.Result.Params.Map(),
			Loss:       s.Result.Loss,
			Iterations: s.Result.State.Iteration,
			Seed:       s.Result.Seed,
		}
		if s.Err != nil {
			fits[i].Error = s.Err.Error()
		}
	}

	run := c.newRun(model.RunKindFit, variant, cfg.NInits, 0, len(fits), len(pop.Failed()))
	runCfg := runConfig(run, req.Fit)
	runCfg.DataPath = req.DataPath
	runDir, err := c.persist(ctx, run, stats.RunArtifacts{
		Config:      runCfg,
		ParamNames:  variant.ParamNames(),
		SubjectFits: fits,
	}, func(store storage.Store) error {
		return store.SaveSubjectFits(ctx, run.ID, fits)
	})
	if err != nil {
		return FitSummary{}, err
	}

	return FitSummary{
		RunID:        run.ID,
		ArtifactsDir: runDir,
		Variant:      variant.String(),
		ParamNames:   variant.ParamNames(),
		Trials:       file.NumTrials(),
		Subjects:     fits,
		Failed:       run.Failed,
	}, nil
}

type RecoverRequest struct {
	Fit             config.FitConfig
	Alphas          []float64
	Betas           []float64
	Trials          int
	TrueProbability float64
	Seed            int64
}

type RecoverSummary struct {
	RunID        string
	ArtifactsDir string
	Records      []model.RecoveryRecord
	Summary      []recovery.ParamSummary
}

// Recover simulates one subject per alpha x beta grid point on a stable
// schedule and fits them back with the shared-alpha model.
func (c *Client) Recover(ctx context.Context, req RecoverRequest) (RecoverSummary, error) {
	cfg, err := req.Fit.ToFit()
	if err != nil {
		return RecoverSummary{}, err
	}
	if req.Trials <= 0 {
		return RecoverSummary{}, errors.New("trials must be > 0")
	}

	sched, rng := simulationSources(req.Seed)
	sim := rl.NewSimulator(cfg.Model)
	records, err := recovery.RunGrid(ctx, req.Alphas, req.Betas, sched, sim,
		schedule.Stable(req.Trials, req.TrueProbability), rng, cfg)
	if err != nil {
		return RecoverSummary{}, err
	}
	summary := recovery.Summarize(records)

	run := c.newRun(model.RunKindRecovery, fit.SharedAlpha, cfg.NInits, req.Seed, len(records), countFailed(records))
	runCfg := runConfig(run, req.Fit)
	runCfg.Trials = req.Trials
	runCfg.TrueProbability = req.TrueProbability
	runCfg.Alphas = req.Alphas
	runCfg.Betas = req.Betas
	runDir, err := c.persist(ctx, run, stats.RunArtifacts{
		Config:   runCfg,
		Recovery: records,
		Summary:  summary,
	}, func(store storage.Store) error {
		return store.SaveRecovery(ctx, run.ID, records)
	})
	if err != nil {
		return RecoverSummary{}, err
	}
	return RecoverSummary{RunID: run.ID, ArtifactsDir: runDir, Records: records, Summary: summary}, nil
}

type RecoverSplitRequest struct {
	Fit             config.FitConfig
	Subjects        recovery.SplitSubjects
	Trials          int
	TrueProbability float64
	VolatileBlock   int
	Seed            int64
}

type RecoverSplitSummary struct {
	RunID        string
	ArtifactsDir string
	Records      []model.SplitRecoveryRecord
	Summary      []recovery.ParamSummary
}

// RecoverSplit simulates subjects with separate stable and volatile learning
// rates and fits them back with the split-alpha model.
func (c *Client) RecoverSplit(ctx context.Context, req RecoverSplitRequest) (RecoverSplitSummary, error) {
	cfg, err := req.Fit.ToFit()
	if err != nil {
		return RecoverSplitSummary{}, err
	}
	if req.Trials <= 0 {
		return RecoverSplitSummary{}, errors.New("trials must be > 0")
	}
	volatile, err := schedule.Volatile(req.Trials, req.TrueProbability, req.VolatileBlock)
	if err != nil {
		return RecoverSplitSummary{}, err
	}

	sched, rng := simulationSources(req.Seed)
	sim := rl.NewSimulator(cfg.Model)
	records, err := recovery.RunSplit(ctx, req.Subjects, sched, sim,
		schedule.Stable(req.Trials, req.TrueProbability), volatile, rng, cfg)
	if err != nil {
		return RecoverSplitSummary{}, err
	}
	summary := recovery.SummarizeSplit(records)

	failed := 0
	for _, r := range records {
		if r.Failed {
			failed++
		}
	}
	run := c.newRun(model.RunKindSplitRecovery, fit.SplitAlpha, cfg.NInits, req.Seed, len(records), failed)
	runCfg := runConfig(run, req.Fit)
	runCfg.Trials = req.Trials
	runCfg.TrueProbability = req.TrueProbability
	runCfg.VolatileBlock = req.VolatileBlock
	runCfg.AlphasStable = req.Subjects.AlphaStable
	runCfg.AlphasVolatile = req.Subjects.AlphaVolatile
	runCfg.SplitBetas = req.Subjects.Beta
	runDir, err := c.persist(ctx, run, stats.RunArtifacts{
		Config:        runCfg,
		SplitRecovery: records,
		Summary:       summary,
	}, func(store storage.Store) error {
		return store.SaveSplitRecovery(ctx, run.ID, records)
	})
	if err != nil {
		return RecoverSplitSummary{}, err
	}
	return RecoverSplitSummary{RunID: run.ID, ArtifactsDir: runDir, Records: records, Summary: summary}, nil
}

type LandscapeRequest struct {
	DataPath string
	// Subject selects a subject id from the file; empty means the first.
	Subject   string
	AlphaStep float64
	BetaStep  float64
	Fit       config.FitConfig
}

// Landscape evaluates the shared-alpha log likelihood of one subject over a
// grid spanning the configured bounds.
func (c *Client) Landscape(_ context.Context, req LandscapeRequest) (rl.LandscapeResult, error) {
	cfg, err := req.Fit.ToFit()
	if err != nil {
		return rl.LandscapeResult{}, err
	}
	file, err := dataio.LoadTrialsCSV(req.DataPath)
	if err != nil {
		return rl.LandscapeResult{}, err
	}
	batch := file.Subjects[0].All
	if req.Subject != "" {
		found := false
		for _, s := range file.Subjects {
			if s.ID == req.Subject {
				batch, found = s.All, true
				break
			}
		}
		if !found {
			return rl.LandscapeResult{}, fmt.Errorf("subject %s not found in %s", req.Subject, req.DataPath)
		}
	}

	if req.AlphaStep <= 0 {
		req.AlphaStep = 0.01
	}
	if req.BetaStep <= 0 {
		req.BetaStep = 0.01
	}
	b := cfg.Bounds
	alphas, err := rl.Arange(b.AlphaMin, b.AlphaMax, req.AlphaStep)
	if err != nil {
		return rl.LandscapeResult{}, err
	}
	betas, err := rl.Arange(b.BetaMin, b.BetaMax, req.BetaStep)
	if err != nil {
		return rl.LandscapeResult{}, err
	}
	return rl.Landscape(batch, alphas, betas, cfg.Model)
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string `json:"run_id"`
	CreatedAtUTC string `json:"created_at_utc"`
	Kind         string `json:"kind"`
	Variant      string `json:"variant"`
	Subjects     int    `json:"subjects"`
	Failed       int    `json:"failed"`
	NInits       int    `json:"n_inits"`
	Seed         int64  `json:"seed"`
}

// Runs lists runs newest first. Runs known to the store come from the store;
// the run index adds the ones recorded by other processes.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	store, err := c.ensureStore(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(stored)+len(entries))
	seen := make(map[string]bool, len(stored))
	for _, r := range stored {
		seen[r.ID] = true
		out = append(out, RunItem{
			RunID:        r.ID,
			CreatedAtUTC: r.CreatedAtUTC,
			Kind:         r.Kind,
			Variant:      r.Variant,
			Subjects:     r.Subjects,
			Failed:       r.Failed,
			NInits:       r.NInits,
			Seed:         r.Seed,
		})
	}
	for _, e := range entries {
		if seen[e.RunID] {
			continue
		}
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Kind:         e.Kind,
			Variant:      e.Variant,
			Subjects:     e.Subjects,
			Failed:       e.Failed,
			NInits:       e.NInits,
			Seed:         e.Seed,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

type ResultsRequest struct {
	RunID  string
	Latest bool
}

// RunResults holds the result tables of one run. Only the table that matches
// Run.Kind is set.
type RunResults struct {
	Run           model.RunRecord
	Recovery      []model.RecoveryRecord
	SplitRecovery []model.SplitRecoveryRecord
	SubjectFits   []model.SubjectFitRecord
}

// Results reads a run's tables from the store, falling back to the artifacts
// directory for runs recorded by an earlier process.
func (c *Client) Results(ctx context.Context, req ResultsRequest) (RunResults, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RunResults{}, err
	}

	store, err := c.ensureStore(ctx)
	if err != nil {
		return RunResults{}, err
	}
	run, ok, err := store.GetRun(ctx, runID)
	if err != nil {
		return RunResults{}, err
	}
	if ok {
		out := RunResults{Run: run}
		switch run.Kind {
		case model.RunKindFit:
			out.SubjectFits, _, err = store.GetSubjectFits(ctx, runID)
		case model.RunKindRecovery:
			out.Recovery, _, err = store.GetRecovery(ctx, runID)
		case model.RunKindSplitRecovery:
			out.SplitRecovery, _, err = store.GetSplitRecovery(ctx, runID)
		}
		return out, err
	}

	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return RunResults{}, err
	}
	if !ok {
		return RunResults{}, fmt.Errorf("run %s not found", runID)
	}
	out := RunResults{Run: model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              cfg.RunID,
		Kind:            cfg.Kind,
		Variant:         cfg.Variant,
		NInits:          cfg.NInits,
		Seed:            cfg.Seed,
	}}
	switch cfg.Kind {
	case model.RunKindFit:
		out.SubjectFits, _, err = stats.ReadSubjectFits(c.artifactsDir, runID)
		out.Run.Subjects = len(out.SubjectFits)
	case model.RunKindRecovery:
		out.Recovery, _, err = stats.ReadRecovery(c.artifactsDir, runID)
		out.Run.Subjects = len(out.Recovery)
	case model.RunKindSplitRecovery:
		out.SplitRecovery, _, err = stats.ReadSplitRecovery(c.artifactsDir, runID)
		out.Run.Subjects = len(out.SplitRecovery)
	}
	return out, err
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if !latest {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) newRun(kind string, variant fit.Variant, nInits int, seed int64, subjects, failed int) model.RunRecord {
	now := c.now().UTC()
	return model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              fmt.Sprintf("%s-%s-%s", kind, strftime.Format("%Y%m%dT%H%M%S", now), uuid.NewString()[:8]),
		Kind:            kind,
		CreatedAtUTC:    now.Format(createdAtLayout),
		Variant:         variant.String(),
		Subjects:        subjects,
		Failed:          failed,
		NInits:          nInits,
		Seed:            seed,
	}
}

// persist records a finished run in the store, the artifacts directory and
// the run index, in that order.
func (c *Client) persist(ctx context.Context, run model.RunRecord, artifacts stats.RunArtifacts, saveTable func(storage.Store) error) (string, error) {
	store, err := c.ensureStore(ctx)
	if err != nil {
		return "", err
	}
	if err := store.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if err := saveTable(store); err != nil {
		return "", fmt.Errorf("save run %s results: %w", run.ID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        run.ID,
		Kind:         run.Kind,
		Variant:      run.Variant,
		Subjects:     run.Subjects,
		Failed:       run.Failed,
		NInits:       run.NInits,
		Seed:         run.Seed,
		CreatedAtUTC: run.CreatedAtUTC,
	}); err != nil {
		return "", err
	}

	logging.FromContext(ctx).Info("run recorded", "run", run.ID, "kind", run.Kind, "subjects", run.Subjects, "failed", run.Failed)
	return filepath.Clean(runDir), nil
}

func runConfig(run model.RunRecord, f config.FitConfig) stats.RunConfig {
	return stats.RunConfig{
		RunID:        run.ID,
		Kind:         run.Kind,
		Variant:      run.Variant,
		Utility:      f.Utility,
		Omega:        f.Omega,
		StartingProb: f.StartingProb,
		Bounds:       f.Bounds,
		NInits:       f.NInits,
		Workers:      f.Workers,
		MaxIter:      f.MaxIter,
		Tol:          f.Tol,
		Memory:       f.Memory,
		Seed:         run.Seed,
	}
}

// simulationSources derives the schedule generator and the binarisation
// source from one seed so that a recovery run is reproducible.
func simulationSources(seed int64) (*schedule.Generator, *rand.Rand) {
	root := rand.New(rand.NewSource(seed))
	return schedule.NewGenerator(root.Int63()), rand.New(rand.NewSource(root.Int63()))
}

func countFailed(records []model.RecoveryRecord) int {
	n := 0
	for _, r := range records {
		if r.Failed {
			n++
		}
	}
	return n
}
