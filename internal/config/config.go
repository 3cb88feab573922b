// Package config loads rlfit settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"rlfit/internal/fit"
	"rlfit/internal/model"
	"rlfit/internal/optim"
	"rlfit/internal/recovery"
	"rlfit/internal/rl"
	"rlfit/internal/storage"
)

type Config struct {
	Fit      FitConfig      `yaml:"fit"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Store    StoreConfig    `yaml:"store"`
}

type FitConfig struct {
	Variant      string       `yaml:"variant"`
	Bounds       model.Bounds `yaml:"bounds"`
	StartingProb float64      `yaml:"starting_prob"`
	Utility      string       `yaml:"utility"`
	Omega        float64      `yaml:"omega"`
	MaxIter      int          `yaml:"max_iter"`
	Tol          float64      `yaml:"tol"`
	Memory       int          `yaml:"memory"`
	NInits       int          `yaml:"n_inits"`
	Workers      int          `yaml:"workers"`
}

type RecoveryConfig struct {
	Alphas          []float64 `yaml:"alphas"`
	Betas           []float64 `yaml:"betas"`
	Trials          int       `yaml:"trials"`
	TrueProbability float64   `yaml:"true_probability"`
	// VolatileBlock is the number of trials between reversals in the
	// volatile block of split recoveries.
	VolatileBlock int                    `yaml:"volatile_block"`
	Seed          int64                  `yaml:"seed"`
	Split         recovery.SplitSubjects `yaml:"split"`
}

type StoreConfig struct {
	Kind         string `yaml:"kind"`
	DBPath       string `yaml:"db_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// Default returns a fresh configuration; callers may modify it freely.
func Default() Config {
	settings := optim.DefaultSettings()
	return Config{
		Fit: FitConfig{
			Variant:      fit.SharedAlpha.String(),
			Bounds:       model.DefaultBounds(),
			StartingProb: rl.DefaultStartingProb,
			Utility:      rl.UtilityMultiplicative,
			MaxIter:      settings.MaxIter,
			Tol:          settings.Tol,
			Memory:       settings.Memory,
			NInits:       fit.DefaultInits,
		},
		Recovery: RecoveryConfig{
			Alphas:          []float64{0.1, 0.3, 0.5, 0.7, 0.9},
			Betas:           []float64{0.05, 0.1, 0.2},
			Trials:          200,
			TrueProbability: 0.7,
			VolatileBlock:   20,
			Split: recovery.SplitSubjects{
				AlphaStable:   []float64{0.1, 0.2, 0.3, 0.4},
				AlphaVolatile: []float64{0.5, 0.6, 0.7, 0.8},
				Beta:          []float64{0.1, 0.1, 0.1, 0.1},
			},
		},
		Store: StoreConfig{
			Kind:         storage.DefaultStoreKind(),
			DBPath:       "rlfit.db",
			ArtifactsDir: "runs",
		},
	}
}

// Load overlays the YAML file at path onto Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.Fit.ToFit(); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	if _, err := fit.ParseVariant(c.Fit.Variant); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := storage.CheckStoreKind(c.Store.Kind); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (r RecoveryConfig) Validate() error {
	if r.Trials <= 0 {
		return errors.New("trials must be > 0")
	}
	if r.TrueProbability < 0 || r.TrueProbability > 1 || math.IsNaN(r.TrueProbability) {
		return errors.New("true probability must be in [0, 1]")
	}
	if r.VolatileBlock <= 0 {
		return errors.New("volatile block must be > 0")
	}
	if len(r.Split.Beta) > 0 {
		if err := r.Split.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToFit converts the YAML fit section into the immutable fit.Config passed
// to each fitting call.
func (f FitConfig) ToFit() (fit.Config, error) {
	utility, err := rl.GetUtility(f.Utility)
	if err != nil {
		return fit.Config{}, err
	}
	cfg := fit.Config{
		Bounds: f.Bounds,
		Model: rl.Options{
			StartingProb: f.StartingProb,
			Utility:      utility,
			Omega:        f.Omega,
		},
		Optimizer: optim.DefaultSettings(),
		NInits:    f.NInits,
		Workers:   f.Workers,
	}
	cfg.Optimizer.MaxIter = f.MaxIter
	cfg.Optimizer.Tol = f.Tol
	cfg.Optimizer.Memory = f.Memory
	if err := cfg.Validate(); err != nil {
		return fit.Config{}, err
	}
	return cfg, nil
}
