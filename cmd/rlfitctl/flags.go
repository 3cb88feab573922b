package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"rlfit/internal/config"
	"rlfit/internal/logging"
	"rlfit/internal/storage"
	"rlfit/pkg/rlfit"
)

// commonFlags are shared by every command. Flags override values loaded from
// --config only when they are set explicitly.
type commonFlags struct {
	configPath   *string
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	verbosity    *int
	devLog       *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath:   fs.String("config", "", "yaml config path"),
		storeKind:    fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", "rlfit.db", "sqlite database path"),
		artifactsDir: fs.String("artifacts", "runs", "run artifacts directory"),
		verbosity:    fs.Int("v", 0, "log verbosity (1 debug, 2 trace)"),
		devLog:       fs.Bool("dev-log", false, "human readable logs"),
	}
}

func (c commonFlags) open(ctx context.Context, fs *flag.FlagSet) (context.Context, *rlfit.Client, config.Config, error) {
	settings := config.Default()
	if *c.configPath != "" {
		loaded, err := config.Load(*c.configPath)
		if err != nil {
			return ctx, nil, config.Config{}, err
		}
		settings = loaded
	}

	set := setFlags(fs)
	if set["store"] || settings.Store.Kind == "" {
		settings.Store.Kind = *c.storeKind
	}
	if set["db-path"] || settings.Store.DBPath == "" {
		settings.Store.DBPath = *c.dbPath
	}
	if set["artifacts"] || settings.Store.ArtifactsDir == "" {
		settings.Store.ArtifactsDir = *c.artifactsDir
	}

	log, err := logging.New(*c.verbosity, *c.devLog)
	if err != nil {
		return ctx, nil, config.Config{}, fmt.Errorf("build logger: %w", err)
	}
	ctx = logging.IntoContext(ctx, log)

	client, err := rlfit.New(rlfit.Options{
		StoreKind:    settings.Store.Kind,
		DBPath:       settings.Store.DBPath,
		ArtifactsDir: settings.Store.ArtifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return ctx, nil, config.Config{}, err
	}
	return ctx, client, settings, nil
}

type fitFlags struct {
	variant      *string
	nInits       *int
	workers      *int
	maxIter      *int
	tol          *float64
	utility      *string
	omega        *float64
	startingProb *float64
}

func addFitFlags(fs *flag.FlagSet) fitFlags {
	defaults := config.Default().Fit
	return fitFlags{
		variant:      fs.String("variant", defaults.Variant, "model variant: shared_alpha|split_alpha"),
		nInits:       fs.Int("n-inits", defaults.NInits, "random initialisations per subject"),
		workers:      fs.Int("workers", defaults.Workers, "max concurrent fits (0 = GOMAXPROCS)"),
		maxIter:      fs.Int("max-iter", defaults.MaxIter, "optimizer iteration limit"),
		tol:          fs.Float64("tol", defaults.Tol, "optimizer projected gradient tolerance"),
		utility:      fs.String("utility", defaults.Utility, "utility function name"),
		omega:        fs.Float64("omega", defaults.Omega, "utility mixing weight"),
		startingProb: fs.Float64("starting-prob", defaults.StartingProb, "initial belief that option 1 is rewarded"),
	}
}

func (f fitFlags) apply(fs *flag.FlagSet, cfg *config.FitConfig) {
	set := setFlags(fs)
	if set["variant"] {
		cfg.Variant = *f.variant
	}
	if set["n-inits"] {
		cfg.NInits = *f.nInits
	}
	if set["workers"] {
		cfg.Workers = *f.workers
	}
	if set["max-iter"] {
		cfg.MaxIter = *f.maxIter
	}
	if set["tol"] {
		cfg.Tol = *f.tol
	}
	if set["utility"] {
		cfg.Utility = *f.utility
	}
	if set["omega"] {
		cfg.Omega = *f.omega
	}
	if set["starting-prob"] {
		cfg.StartingProb = *f.startingProb
	}
}

type recoveryFlags struct {
	trials        *int
	trueProb      *float64
	volatileBlock *int
	seed          *int64
}

func addRecoveryFlags(fs *flag.FlagSet) recoveryFlags {
	defaults := config.Default().Recovery
	return recoveryFlags{
		trials:        fs.Int("trials", defaults.Trials, "simulated trials per subject (per block for split runs)"),
		trueProb:      fs.Float64("p", defaults.TrueProbability, "reward probability of the better option"),
		volatileBlock: fs.Int("block", defaults.VolatileBlock, "trials between reversals in the volatile block"),
		seed:          fs.Int64("seed", defaults.Seed, "simulation seed"),
	}
}

func (f recoveryFlags) apply(fs *flag.FlagSet, cfg *config.RecoveryConfig) {
	set := setFlags(fs)
	if set["trials"] {
		cfg.Trials = *f.trials
	}
	if set["p"] {
		cfg.TrueProbability = *f.trueProb
	}
	if set["block"] {
		cfg.VolatileBlock = *f.volatileBlock
	}
	if set["seed"] {
		cfg.Seed = *f.seed
	}
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func parseFloatList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}
