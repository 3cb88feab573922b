package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"rlfit/internal/dataio"
	"rlfit/internal/logging"
	"rlfit/internal/storage"
	"rlfit/pkg/rlfit"
)

const exportsDir = "exports"

var stdout io.Writer = os.Stdout

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "recover":
		return runRecover(ctx, args[1:])
	case "recover-split":
		return runRecoverSplit(ctx, args[1:])
	case "landscape":
		return runLandscape(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, client, settings, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialized store=%s\n", settings.Store.Kind)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fitFlags := addFitFlags(fs)
	dataPath := fs.String("data", "", "trials csv path")
	jsonOut := fs.Bool("json", false, "emit fitted parameters as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return errors.New("fit requires --data")
	}
	ctx, client, settings, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	fitFlags.apply(fs, &settings.Fit)

	summary, err := client.Fit(ctx, rlfit.FitRequest{DataPath: *dataPath, Fit: settings.Fit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(summary)
	}

	fmt.Fprintf(stdout, "run_id=%s variant=%s subjects=%d trials=%s failed=%d artifacts=%s\n",
		summary.RunID,
		summary.Variant,
		len(summary.Subjects),
		formatCount(summary.Trials),
		summary.Failed,
		summary.ArtifactsDir,
	)
	return printFits(summary.ParamNames, summary.Subjects)
}

func runRecover(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fitFlags := addFitFlags(fs)
	recFlags := addRecoveryFlags(fs)
	alphas := fs.String("alphas", "", "comma separated simulated alphas")
	betas := fs.String("betas", "", "comma separated simulated betas")
	jsonOut := fs.Bool("json", false, "emit records and summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, client, settings, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	fitFlags.apply(fs, &settings.Fit)
	recFlags.apply(fs, &settings.Recovery)
	if *alphas != "" {
		if settings.Recovery.Alphas, err = parseFloatList(*alphas); err != nil {
			return fmt.Errorf("alphas: %w", err)
		}
	}
	if *betas != "" {
		if settings.Recovery.Betas, err = parseFloatList(*betas); err != nil {
			return fmt.Errorf("betas: %w", err)
		}
	}

	rec := settings.Recovery
	summary, err := client.Recover(ctx, rlfit.RecoverRequest{
		Fit:             settings.Fit,
		Alphas:          rec.Alphas,
		Betas:           rec.Betas,
		Trials:          rec.Trials,
		TrueProbability: rec.TrueProbability,
		Seed:            rec.Seed,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(summary)
	}

	fmt.Fprintf(stdout, "run_id=%s subjects=%d trials_per_subject=%s artifacts=%s\n",
		summary.RunID, len(summary.Records), formatCount(rec.Trials), summary.ArtifactsDir)
	if err := dataio.WriteRecoveryCSV(stdout, summary.Records); err != nil {
		return err
	}
	return printSummary(summary.Summary)
}

func runRecoverSplit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recover-split", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fitFlags := addFitFlags(fs)
	recFlags := addRecoveryFlags(fs)
	alphasStable := fs.String("alphas-stable", "", "comma separated simulated stable alphas")
	alphasVolatile := fs.String("alphas-volatile", "", "comma separated simulated volatile alphas")
	betas := fs.String("betas", "", "comma separated simulated betas, one per subject")
	jsonOut := fs.Bool("json", false, "emit records and summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, client, settings, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	fitFlags.apply(fs, &settings.Fit)
	recFlags.apply(fs, &settings.Recovery)
	split := &settings.Recovery.Split
	for _, opt := range []struct {
		name  string
		raw   string
		value *[]float64
	}{
		{"alphas-stable", *alphasStable, &split.AlphaStable},
		{"alphas-volatile", *alphasVolatile, &split.AlphaVolatile},
		{"betas", *betas, &split.Beta},
	} {
		if opt.raw == "" {
			continue
		}
		if *opt.value, err = parseFloatList(opt.raw); err != nil {
			return fmt.Errorf("%s: %w", opt.name, err)
		}
	}

	rec := settings.Recovery
	summary, err := client.RecoverSplit(ctx, rlfit.RecoverSplitRequest{
		Fit:             settings.Fit,
		Subjects:        rec.Split,
		Trials:          rec.Trials,
		TrueProbability: rec.TrueProbability,
		VolatileBlock:   rec.VolatileBlock,
		Seed:            rec.Seed,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(summary)
	}

	fmt.Fprintf(stdout, "run_id=%s subjects=%d trials_per_block=%s artifacts=%s\n",
		summary.RunID, len(summary.Records), formatCount(rec.Trials), summary.ArtifactsDir)
	if err := dataio.WriteSplitRecoveryCSV(stdout, summary.Records); err != nil {
		return err
	}
	return printSummary(summary.Summary)
}

func runLandscape(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("landscape", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fitFlags := addFitFlags(fs)
	dataPath := fs.String("data", "", "trials csv path")
	subject := fs.String("subject", "", "subject id (default: first subject in the file)")
	alphaStep := fs.Float64("alpha-step", 0.01, "alpha grid step")
	betaStep := fs.Float64("beta-step", 0.01, "beta grid step")
	outPath := fs.String("out", "", "write the grid as CSV to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return errors.New("landscape requires --data")
	}
	if *alphaStep <= 0 || *betaStep <= 0 {
		return errors.New("grid steps must be > 0")
	}
	ctx, client, settings, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	fitFlags.apply(fs, &settings.Fit)

	res, err := client.Landscape(ctx, rlfit.LandscapeRequest{
		DataPath:  *dataPath,
		Subject:   *subject,
		AlphaStep: *alphaStep,
		BetaStep:  *betaStep,
		Fit:       settings.Fit,
	})
	if err != nil {
		return err
	}

	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		if err := dataio.WriteLandscapeCSV(f, res); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	alpha, beta, ll := res.Peak()
	fmt.Fprintf(stdout, "grid=%dx%d peak_alpha=%.4f peak_beta=%.4f peak_log_likelihood=%.6f\n",
		len(res.Alphas), len(res.Betas), alpha, beta, ll)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	ctx, client, _, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, rlfit.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	return printRuns(runs)
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	jsonOut := fs.Bool("json", false, "emit run results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, client, _, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	results, err := client.Results(ctx, rlfit.ResultsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(results)
	}

	r := results.Run
	fmt.Fprintf(stdout, "run_id=%s kind=%s variant=%s subjects=%d n_inits=%d seed=%d\n",
		r.ID, r.Kind, r.Variant, r.Subjects, r.NInits, r.Seed)
	switch {
	case results.SubjectFits != nil:
		return printFits(paramNamesOf(r.Variant), results.SubjectFits)
	case results.Recovery != nil:
		return dataio.WriteRecoveryCSV(stdout, results.Recovery)
	case results.SplitRecovery != nil:
		return dataio.WriteSplitRecoveryCSV(stdout, results.SplitRecovery)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	ctx, client, _, err := common.open(ctx, fs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, rlfit.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	logging.FromContext(ctx).V(logging.DEBUG).Info("exported run", "run", exported.RunID)
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: rlfitctl <init|fit|recover|recover-split|landscape|runs|show|export> [flags]\nstore backends: %s (default %s)",
		msg, "memory|sqlite", storage.DefaultStoreKind())
}
