package dataio

import (
	"encoding/csv"
	"io"
	"strconv"

	"rlfit/internal/model"
	"rlfit/internal/rl"
)

func WriteRecoveryCSV(w io.Writer, records []model.RecoveryRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"subject", "simulated_alpha", "simulated_beta", "recovered_alpha", "recovered_beta", "loss", "failed",
	}); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write([]string{
			strconv.Itoa(r.Subject),
			formatFloat(r.SimulatedAlpha),
			formatFloat(r.SimulatedBeta),
			formatFloat(r.RecoveredAlpha),
			formatFloat(r.RecoveredBeta),
			formatFloat(r.Loss),
			strconv.FormatBool(r.Failed),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteSplitRecoveryCSV(w io.Writer, records []model.SplitRecoveryRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"subject",
		"simulated_alpha_stable", "simulated_alpha_volatile", "simulated_beta",
		"recovered_alpha_stable", "recovered_alpha_volatile", "recovered_beta",
		"loss", "failed",
	}); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write([]string{
			strconv.Itoa(r.Subject),
			formatFloat(r.SimulatedAlphaStable),
			formatFloat(r.SimulatedAlphaVolatile),
			formatFloat(r.SimulatedBeta),
			formatFloat(r.RecoveredAlphaStable),
			formatFloat(r.RecoveredAlphaVolatile),
			formatFloat(r.RecoveredBeta),
			formatFloat(r.Loss),
			strconv.FormatBool(r.Failed),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFitsCSV writes one row per subject with a column for each name in
// paramNames. Missing parameters are written as NaN.
func WriteFitsCSV(w io.Writer, paramNames []string, fits []model.SubjectFitRecord) error {
	writer := csv.NewWriter(w)
	header := append([]string{"subject"}, paramNames...)
	header = append(header, "loss", "iterations", "seed", "error")
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, f := range fits {
		row := make([]string, 0, len(header))
		row = append(row, f.Subject)
		for _, name := range paramNames {
			v, ok := f.Params[name]
			if !ok {
				row = append(row, "NaN")
				continue
			}
			row = append(row, formatFloat(v))
		}
		row = append(row,
			formatFloat(f.Loss),
			strconv.Itoa(f.Iterations),
			strconv.FormatInt(f.Seed, 10),
			f.Error,
		)
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteLandscapeCSV writes one row per (alpha, beta) grid point, alpha-major.
func WriteLandscapeCSV(w io.Writer, landscape rl.LandscapeResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"alpha", "beta", "log_likelihood", "likelihood"}); err != nil {
		return err
	}
	for i, alpha := range landscape.Alphas {
		for j, beta := range landscape.Betas {
			if err := writer.Write([]string{
				formatFloat(alpha),
				formatFloat(beta),
				formatFloat(landscape.LogLikelihood[i][j]),
				formatFloat(landscape.Likelihood[i][j]),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
