package rl

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	UtilityMultiplicative = "multiplicative"
	UtilityAdditive       = "additive"
	UtilityProbability    = "probability"

	// magnitudeRange is the span of reward points (1..100) the additive
	// utility rescales probabilities to.
	magnitudeRange = 100.0
)

var (
	ErrUtilityExists   = errors.New("utility already registered")
	ErrUtilityNotFound = errors.New("utility not found")
)

// UtilityFunc maps a reward magnitude and a reward probability to a scalar
// desirability. omega is an optional weighting that only some utilities use.
type UtilityFunc func(mag, prob, omega float64) float64

// Utility pairs a utility with its partial derivative with respect to prob,
// which the loss gradient needs.
type Utility struct {
	Name  string
	Func  UtilityFunc
	DProb UtilityFunc
}

var utilityRegistry = struct {
	mu sync.RWMutex
	m  map[string]Utility
}{
	m: make(map[string]Utility),
}

func init() {
	initializeBuiltInUtilities()
}

func initializeBuiltInUtilities() {
	MustRegisterUtility(Utility{
		Name:  UtilityMultiplicative,
		Func:  func(mag, prob, _ float64) float64 { return mag * prob },
		DProb: func(mag, _, _ float64) float64 { return mag },
	})
	MustRegisterUtility(Utility{
		Name: UtilityAdditive,
		Func: func(mag, prob, omega float64) float64 {
			return omega*mag + (1-omega)*magnitudeRange*prob
		},
		DProb: func(_, _, omega float64) float64 { return (1 - omega) * magnitudeRange },
	})
	MustRegisterUtility(Utility{
		Name:  UtilityProbability,
		Func:  func(_, prob, _ float64) float64 { return prob },
		DProb: func(_, _, _ float64) float64 { return 1 },
	})
}

func RegisterUtility(u Utility) error {
	if u.Name == "" {
		return errors.New("utility name is required")
	}
	if u.Func == nil || u.DProb == nil {
		return errors.New("utility function and derivative are required")
	}

	utilityRegistry.mu.Lock()
	defer utilityRegistry.mu.Unlock()

	if _, exists := utilityRegistry.m[u.Name]; exists {
		return fmt.Errorf("%w: %s", ErrUtilityExists, u.Name)
	}
	utilityRegistry.m[u.Name] = u
	return nil
}

func MustRegisterUtility(u Utility) {
	if err := RegisterUtility(u); err != nil {
		panic(err)
	}
}

func GetUtility(name string) (Utility, error) {
	if name == "" {
		name = UtilityMultiplicative
	}
	utilityRegistry.mu.RLock()
	u, ok := utilityRegistry.m[name]
	utilityRegistry.mu.RUnlock()
	if !ok {
		return Utility{}, fmt.Errorf("%w: %s", ErrUtilityNotFound, name)
	}
	return u, nil
}

// DefaultUtility is magnitude times probability.
func DefaultUtility() Utility {
	u, err := GetUtility(UtilityMultiplicative)
	if err != nil {
		panic(err)
	}
	return u
}

func ListUtilities() []string {
	utilityRegistry.mu.RLock()
	defer utilityRegistry.mu.RUnlock()

	names := make([]string, 0, len(utilityRegistry.m))
	for name := range utilityRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetUtilityRegistryForTests() {
	utilityRegistry.mu.Lock()
	utilityRegistry.m = make(map[string]Utility)
	utilityRegistry.mu.Unlock()
	initializeBuiltInUtilities()
}
