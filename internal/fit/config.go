package fit

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"rlfit/internal/model"
	"rlfit/internal/optim"
	"rlfit/internal/rl"
)

const DefaultInits = 10

// Config is passed by value into every entry point; nothing in this package
// keeps configuration between calls.
type Config struct {
	Bounds    model.Bounds
	Model     rl.Options
	Optimizer optim.Settings
	NInits    int
	// Workers bounds the goroutines used for lanes. Zero means GOMAXPROCS.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Bounds:    model.DefaultBounds(),
		Model:     rl.DefaultOptions(),
		Optimizer: optim.DefaultSettings(),
		NInits:    DefaultInits,
	}
}

func (c Config) Validate() error {
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if c.Model.StartingProb < 0 || c.Model.StartingProb > 1 || math.IsNaN(c.Model.StartingProb) {
		return fmt.Errorf("starting probability must be in [0, 1], got %v", c.Model.StartingProb)
	}
	if c.NInits <= 0 {
		return errors.New("n inits must be > 0")
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	return nil
}

func (c Config) workers(lanes int) int {
	w := c.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > lanes {
		w = lanes
	}
	if w < 1 {
		w = 1
	}
	return w
}
