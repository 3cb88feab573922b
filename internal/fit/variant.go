package fit

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"rlfit/internal/model"
)

var (
	ErrInvalidVariant  = errors.New("unsupported fit model variant")
	ErrDatasetMismatch = errors.New("dataset does not match fit model variant")
	ErrDegenerateFit   = errors.New("every initialisation produced a non-finite loss")
)

// Variant selects one of the two supported model families.
type Variant int

const (
	VariantInvalid Variant = iota
	// SharedAlpha fits one learning rate and one inverse temperature to a
	// model.TrialBatch.
	SharedAlpha
	// SplitAlpha fits separate stable and volatile learning rates with a shared
	// inverse temperature to a model.SplitBatch.
	SplitAlpha
)

func (v Variant) String() string {
	switch v {
	case SharedAlpha:
		return "shared_alpha"
	case SplitAlpha:
		return "split_alpha"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

func ParseVariant(name string) (Variant, error) {
	switch NormalizeVariantName(name) {
	case "shared_alpha":
		return SharedAlpha, nil
	case "split_alpha":
		return SplitAlpha, nil
	default:
		return VariantInvalid, fmt.Errorf("%w: %q", ErrInvalidVariant, name)
	}
}

func NormalizeVariantName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "shared", "shared_alpha", "same_alpha":
		return "shared_alpha"
	case "split", "split_alpha", "alpha_difference":
		return "split_alpha"
	default:
		return name
	}
}

func (v Variant) Validate() error {
	switch v {
	case SharedAlpha, SplitAlpha:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidVariant, v)
	}
}

// ParamNames lists the fitted parameters of the variant in optimizer order.
func (v Variant) ParamNames() []string {
	switch v {
	case SharedAlpha:
		return []string{model.ParamAlpha, model.ParamBeta}
	case SplitAlpha:
		return []string{model.ParamAlphaStable, model.ParamAlphaVolatile, model.ParamBeta}
	default:
		return nil
	}
}

// CheckDataset reports whether data has the shape the variant fits.
func (v Variant) CheckDataset(data model.Dataset) error {
	if err := v.Validate(); err != nil {
		return err
	}
	switch v {
	case SharedAlpha:
		if _, ok := data.(model.TrialBatch); !ok {
			return fmt.Errorf("%w: %s needs model.TrialBatch, got %T", ErrDatasetMismatch, v, data)
		}
	case SplitAlpha:
		if _, ok := data.(model.SplitBatch); !ok {
			return fmt.Errorf("%w: %s needs model.SplitBatch, got %T", ErrDatasetMismatch, v, data)
		}
	}
	return data.Validate()
}

func (v Variant) fit(data model.Dataset, rng *rand.Rand, cfg Config) (Result, error) {
	switch v {
	case SharedAlpha:
		batch, ok := data.(model.TrialBatch)
		if !ok {
			return Result{}, fmt.Errorf("%w: got %T", ErrDatasetMismatch, data)
		}
		return FitSameAlpha(batch, rng, cfg)
	case SplitAlpha:
		split, ok := data.(model.SplitBatch)
		if !ok {
			return Result{}, fmt.Errorf("%w: got %T", ErrDatasetMismatch, data)
		}
		return FitAlphaDifference(split, rng, cfg)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidVariant, v)
	}
}
