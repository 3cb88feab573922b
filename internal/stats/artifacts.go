package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rlfit/internal/dataio"
	"rlfit/internal/model"
	"rlfit/internal/recovery"
)

const runIndexFile = "run_index.json"

const (
	configFile            = "config.json"
	recoveryJSONFile      = "recovery.json"
	recoveryCSVFile       = "recovery.csv"
	splitRecoveryJSONFile = "split_recovery.json"
	splitRecoveryCSVFile  = "split_recovery.csv"
	fitsJSONFile          = "fits.json"
	fitsCSVFile           = "fits.csv"
	summaryFile           = "summary.json"
)

var artifactFiles = []string{
	configFile,
	recoveryJSONFile,
	recoveryCSVFile,
	splitRecoveryJSONFile,
	splitRecoveryCSVFile,
	fitsJSONFile,
	fitsCSVFile,
	summaryFile,
}

// RunConfig records everything needed to reproduce a run.
type RunConfig struct {
	RunID           string       `json:"run_id"`
	Kind            string       `json:"kind"`
	Variant         string       `json:"variant"`
	DataPath        string       `json:"data_path,omitempty"`
	Utility         string       `json:"utility"`
	Omega           float64      `json:"omega"`
	StartingProb    float64      `json:"starting_prob"`
	Bounds          model.Bounds `json:"bounds"`
	NInits          int          `json:"n_inits"`
	Workers         int          `json:"workers"`
	MaxIter         int          `json:"max_iter"`
	Tol             float64      `json:"tol"`
	Memory          int          `json:"memory"`
	Seed            int64        `json:"seed"`
	Trials          int          `json:"trials,omitempty"`
	TrueProbability float64      `json:"true_probability,omitempty"`
	VolatileBlock   int          `json:"volatile_block,omitempty"`
	Alphas          []float64    `json:"alphas,omitempty"`
	Betas           []float64    `json:"betas,omitempty"`
	AlphasStable    []float64    `json:"alphas_stable,omitempty"`
	AlphasVolatile  []float64    `json:"alphas_volatile,omitempty"`
	SplitBetas      []float64    `json:"split_betas,omitempty"`
}

// RunArtifacts is the on-disk record of a run. Only the tables that match
// the run kind are set.
type RunArtifacts struct {
	Config        RunConfig
	Recovery      []model.RecoveryRecord
	SplitRecovery []model.SplitRecoveryRecord
	ParamNames    []string
	SubjectFits   []model.SubjectFitRecord
	Summary       []recovery.ParamSummary
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Kind         string `json:"kind"`
	Variant      string `json:"variant"`
	Subjects     int    `json:"subjects"`
	Failed       int    `json:"failed"`
	NInits       int    `json:"n_inits"`
	Seed         int64  `json:"seed"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if artifacts.Recovery != nil {
		if err := writeJSON(filepath.Join(runDir, recoveryJSONFile), artifacts.Recovery); err != nil {
			return "", err
		}
		if err := writeCSV(filepath.Join(runDir, recoveryCSVFile), func(w io.Writer) error {
			return dataio.WriteRecoveryCSV(w, artifacts.Recovery)
		}); err != nil {
			return "", err
		}
	}
	if artifacts.SplitRecovery != nil {
		if err := writeJSON(filepath.Join(runDir, splitRecoveryJSONFile), artifacts.SplitRecovery); err != nil {
			return "", err
		}
		if err := writeCSV(filepath.Join(runDir, splitRecoveryCSVFile), func(w io.Writer) error {
			return dataio.WriteSplitRecoveryCSV(w, artifacts.SplitRecovery)
		}); err != nil {
			return "", err
		}
	}
	if artifacts.SubjectFits != nil {
		if err := writeJSON(filepath.Join(runDir, fitsJSONFile), artifacts.SubjectFits); err != nil {
			return "", err
		}
		if err := writeCSV(filepath.Join(runDir, fitsCSVFile), func(w io.Writer) error {
			return dataio.WriteFitsCSV(w, artifacts.ParamNames, artifacts.SubjectFits)
		}); err != nil {
			return "", err
		}
	}
	if artifacts.Summary != nil {
		if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	order := make(map[string]int, len(entries))
	for i, e := range entries {
		order[e.RunID] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtUTC == entries[j].CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return order[entries[i].RunID] > order[entries[j].RunID]
		}
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

// ExportRunArtifacts copies whichever artifact files the run has into
// outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(filepath.Join(src, configFile)); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRecovery(baseDir, runID string) ([]model.RecoveryRecord, bool, error) {
	var records []model.RecoveryRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, recoveryJSONFile), &records)
	return records, ok, err
}

func ReadSplitRecovery(baseDir, runID string) ([]model.SplitRecoveryRecord, bool, error) {
	var records []model.SplitRecoveryRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, splitRecoveryJSONFile), &records)
	return records, ok, err
}

func ReadSubjectFits(baseDir, runID string) ([]model.SubjectFitRecord, bool, error) {
	var fits []model.SubjectFitRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, fitsJSONFile), &fits)
	return fits, ok, err
}

func ReadSummary(baseDir, runID string) ([]recovery.ParamSummary, bool, error) {
	var summary []recovery.ParamSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeCSV(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
