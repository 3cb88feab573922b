package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"rlfit/internal/dataio"
	"rlfit/internal/fit"
	"rlfit/internal/model"
	"rlfit/internal/recovery"
	"rlfit/pkg/rlfit"
)

// interactive reports whether stdout is a terminal. Pipes and files get
// machine readable output.
func interactive() bool {
	f, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

func printFits(paramNames []string, fits []model.SubjectFitRecord) error {
	if !interactive() {
		return dataio.WriteFitsCSV(stdout, paramNames, fits)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "SUBJECT")
	for _, name := range paramNames {
		fmt.Fprintf(tw, "\t%s", name)
	}
	fmt.Fprintln(tw, "\tLOSS\tITERS\tSEED\tERROR")
	for _, f := range fits {
		fmt.Fprint(tw, f.Subject)
		for _, name := range paramNames {
			v, ok := f.Params[name]
			if !ok {
				fmt.Fprint(tw, "\t-")
				continue
			}
			fmt.Fprintf(tw, "\t%.4f", v)
		}
		fmt.Fprintf(tw, "\t%.6f\t%d\t%d\t%s\n", f.Loss, f.Iterations, f.Seed, f.Error)
	}
	return tw.Flush()
}

func printSummary(summary []recovery.ParamSummary) error {
	for _, s := range summary {
		if _, err := fmt.Fprintf(stdout, "param=%s n=%d correlation=%.4f rmse=%.4f bias=%.4f\n",
			s.Param, s.N, s.Correlation, s.RMSE, s.Bias); err != nil {
			return err
		}
	}
	return nil
}

func printRuns(runs []rlfit.RunItem) error {
	if !interactive() {
		for _, r := range runs {
			if _, err := fmt.Fprintf(stdout, "run_id=%s created_at=%s kind=%s variant=%s subjects=%d failed=%d n_inits=%d seed=%d\n",
				r.RunID, r.CreatedAtUTC, r.Kind, r.Variant, r.Subjects, r.Failed, r.NInits, r.Seed); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tKIND\tVARIANT\tSUBJECTS\tFAILED\tINITS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			r.RunID, createdAgo(r.CreatedAtUTC), r.Kind, r.Variant, humanize.Comma(int64(r.Subjects)), r.Failed, r.NInits)
	}
	return tw.Flush()
}

func createdAgo(createdAt string) string {
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return createdAt
	}
	return humanize.Time(t)
}

// paramNamesOf returns the fitted parameter names of a stored variant name.
func paramNamesOf(variant string) []string {
	v, err := fit.ParseVariant(variant)
	if err != nil {
		return nil
	}
	return v.ParamNames()
}

