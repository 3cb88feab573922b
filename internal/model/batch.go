package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyBatch           = errors.New("trial batch is empty")
	ErrLengthMismatch       = errors.New("trial batch sequences differ in length")
	ErrNonBinary            = errors.New("trial batch value must be 0 or 1")
	ErrNonPositiveMagnitude = errors.New("reward magnitude must be positive and finite")
)

// TrialBatch holds one subject's trials. Rewarded1 and Choice1 are 0/1
// encoded; Mag1 and Mag2 are the reward magnitudes of the two options.
type TrialBatch struct {
	Rewarded1 []float64 `json:"rewarded1"`
	Mag1      []float64 `json:"mag1"`
	Mag2      []float64 `json:"mag2"`
	Choice1   []float64 `json:"choice1"`
}

// SplitBatch pairs the stable and volatile blocks of one subject. The blocks
// are fitted together with separate learning rates and a shared beta.
type SplitBatch struct {
	Stable   TrialBatch `json:"stable"`
	Volatile TrialBatch `json:"volatile"`
}

// Dataset is the per-subject input of a fit; TrialBatch and SplitBatch
// implement it.
type Dataset interface {
	Validate() error
	NumTrials() int
}

func (b TrialBatch) NumTrials() int {
	return len(b.Rewarded1)
}

func (b TrialBatch) Validate() error {
	n := len(b.Rewarded1)
	if n == 0 {
		return ErrEmptyBatch
	}
	if len(b.Mag1) != n || len(b.Mag2) != n || len(b.Choice1) != n {
		return fmt.Errorf("%w: rewarded1=%d mag1=%d mag2=%d choice1=%d",
			ErrLengthMismatch, n, len(b.Mag1), len(b.Mag2), len(b.Choice1))
	}
	for t := 0; t < n; t++ {
		if !isBinary(b.Rewarded1[t]) {
			return fmt.Errorf("%w: rewarded1[%d]=%v", ErrNonBinary, t, b.Rewarded1[t])
		}
		if !isBinary(b.Choice1[t]) {
			return fmt.Errorf("%w: choice1[%d]=%v", ErrNonBinary, t, b.Choice1[t])
		}
		if !isMagnitude(b.Mag1[t]) {
			return fmt.Errorf("%w: mag1[%d]=%v", ErrNonPositiveMagnitude, t, b.Mag1[t])
		}
		if !isMagnitude(b.Mag2[t]) {
			return fmt.Errorf("%w: mag2[%d]=%v", ErrNonPositiveMagnitude, t, b.Mag2[t])
		}
	}
	return nil
}

// Clone returns a deep copy.
func (b TrialBatch) Clone() TrialBatch {
	return TrialBatch{
		Rewarded1: append([]float64(nil), b.Rewarded1...),
		Mag1:      append([]float64(nil), b.Mag1...),
		Mag2:      append([]float64(nil), b.Mag2...),
		Choice1:   append([]float64(nil), b.Choice1...),
	}
}

func (b SplitBatch) NumTrials() int {
	return b.Stable.NumTrials() + b.Volatile.NumTrials()
}

func (b SplitBatch) Validate() error {
	if err := b.Stable.Validate(); err != nil {
		return fmt.Errorf("stable block: %w", err)
	}
	if err := b.Volatile.Validate(); err != nil {
		return fmt.Errorf("volatile block: %w", err)
	}
	return nil
}

func isBinary(v float64) bool {
	return v == 0 || v == 1
}

func isMagnitude(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
