// Package dataio reads subject trial data and writes result tables as CSV.
package dataio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rlfit/internal/model"
)

const (
	BlockStable   = "stable"
	BlockVolatile = "volatile"
)

var trialColumns = []string{"subject", "block", "rewarded1", "mag1", "mag2", "choice1"}

var ErrMissingBlock = errors.New("subject has no trials in block")

// SubjectTrials holds one subject's rows. All keeps every row in file order;
// Stable and Volatile only the rows tagged with that block.
type SubjectTrials struct {
	ID       string
	All      model.TrialBatch
	Stable   model.TrialBatch
	Volatile model.TrialBatch
}

// TrialFile is the parsed content of a trials CSV, subjects in order of first
// appearance.
type TrialFile struct {
	Subjects []SubjectTrials
}

func (f TrialFile) SubjectIDs() []string {
	out := make([]string, len(f.Subjects))
	for i, s := range f.Subjects {
		out[i] = s.ID
	}
	return out
}

func (f TrialFile) NumTrials() int {
	total := 0
	for _, s := range f.Subjects {
		total += s.All.NumTrials()
	}
	return total
}

// SharedDatasets returns every subject's rows as one batch, ignoring blocks.
func (f TrialFile) SharedDatasets() []model.Dataset {
	out := make([]model.Dataset, len(f.Subjects))
	for i, s := range f.Subjects {
		out[i] = s.All
	}
	return out
}

// SplitDatasets pairs each subject's stable and volatile rows. Every subject
// must have rows in both blocks.
func (f TrialFile) SplitDatasets() ([]model.Dataset, error) {
	out := make([]model.Dataset, len(f.Subjects))
	for i, s := range f.Subjects {
		if s.Stable.NumTrials() == 0 {
			return nil, fmt.Errorf("%w: subject %s %s", ErrMissingBlock, s.ID, BlockStable)
		}
		if s.Volatile.NumTrials() == 0 {
			return nil, fmt.Errorf("%w: subject %s %s", ErrMissingBlock, s.ID, BlockVolatile)
		}
		out[i] = model.SplitBatch{Stable: s.Stable, Volatile: s.Volatile}
	}
	return out, nil
}

func LoadTrialsCSV(path string) (TrialFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return TrialFile{}, fmt.Errorf("trials csv path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return TrialFile{}, fmt.Errorf("open trials csv %s: %w", path, err)
	}
	defer f.Close()

	file, err := ReadTrialsCSV(f)
	if err != nil {
		return TrialFile{}, fmt.Errorf("trials csv %s: %w", path, err)
	}
	return file, nil
}

// ReadTrialsCSV parses a header row naming at least subject, rewarded1, mag1,
// mag2 and choice1 (block is optional), then one trial per row.
func ReadTrialsCSV(r io.Reader) (TrialFile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return TrialFile{}, fmt.Errorf("missing header row")
		}
		return TrialFile{}, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range trialColumns {
		if name == "block" {
			continue
		}
		if _, ok := cols[name]; !ok {
			return TrialFile{}, fmt.Errorf("header is missing column %q", name)
		}
	}

	var file TrialFile
	bySubject := map[string]int{}
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TrialFile{}, fmt.Errorf("read row %d: %w", row+1, err)
		}
		row++

		field := func(name string) (string, bool) {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return "", false
			}
			return strings.TrimSpace(record[i]), true
		}
		subject, ok := field("subject")
		if !ok || subject == "" {
			return TrialFile{}, fmt.Errorf("row %d: subject is required", row)
		}
		var values [4]float64
		for k, name := range trialColumns[2:] {
			raw, ok := field(name)
			if !ok {
				return TrialFile{}, fmt.Errorf("row %d: missing %s", row, name)
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return TrialFile{}, fmt.Errorf("parse row %d %s: %w", row, name, err)
			}
			values[k] = v
		}
		block, _ := field("block")
		block = strings.ToLower(block)

		idx, seen := bySubject[subject]
		if !seen {
			idx = len(file.Subjects)
			bySubject[subject] = idx
			file.Subjects = append(file.Subjects, SubjectTrials{ID: subject})
		}
		s := &file.Subjects[idx]
		appendTrial(&s.All, values)
		switch block {
		case "":
		case BlockStable:
			appendTrial(&s.Stable, values)
		case BlockVolatile:
			appendTrial(&s.Volatile, values)
		default:
			return TrialFile{}, fmt.Errorf("row %d: unknown block %q", row, block)
		}
	}

	if len(file.Subjects) == 0 {
		return TrialFile{}, fmt.Errorf("no trial rows")
	}
	for _, s := range file.Subjects {
		if err := s.All.Validate(); err != nil {
			return TrialFile{}, fmt.Errorf("subject %s: %w", s.ID, err)
		}
	}
	return file, nil
}

func appendTrial(b *model.TrialBatch, v [4]float64) {
	b.Rewarded1 = append(b.Rewarded1, v[0])
	b.Mag1 = append(b.Mag1, v[1])
	b.Mag2 = append(b.Mag2, v[2])
	b.Choice1 = append(b.Choice1, v[3])
}

// WriteTrialsCSV writes subjects in the layout ReadTrialsCSV accepts. Blocked
// subjects are written stable rows first, unblocked ones from All.
func WriteTrialsCSV(w io.Writer, subjects []SubjectTrials) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(trialColumns); err != nil {
		return err
	}
	for _, s := range subjects {
		if s.Stable.NumTrials() == 0 && s.Volatile.NumTrials() == 0 {
			if err := writeBlock(writer, s.ID, "", s.All); err != nil {
				return err
			}
			continue
		}
		if err := writeBlock(writer, s.ID, BlockStable, s.Stable); err != nil {
			return err
		}
		if err := writeBlock(writer, s.ID, BlockVolatile, s.Volatile); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeBlock(writer *csv.Writer, subject, block string, b model.TrialBatch) error {
	for t := 0; t < b.NumTrials(); t++ {
		if err := writer.Write([]string{
			subject,
			block,
			formatFloat(b.Rewarded1[t]),
			formatFloat(b.Mag1[t]),
			formatFloat(b.Mag2[t]),
			formatFloat(b.Choice1[t]),
		}); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
