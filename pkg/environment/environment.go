package environment

import (
	"fmt"
	"math/rand"
	"time"
)

// Known environment kinds.
const (
	TypeBernoulli = "bernoulli"
	TypeGaussian  = "gaussian"
)

// Environment produces numeric rewards for a chosen arm.
//
// Parameters are drawn once in Reset and remain fixed for the lifetime of
// the object; Step consumes exactly one draw from the owned RNG and never
// mutates parameters. Action range checks are the caller's responsibility.
type Environment interface {
	// Reset draws and fixes the per-arm parameters using the owned RNG
	Reset()
	// Step returns a reward for the given arm
	Step(action int) float64
	// Info returns a serializable snapshot of type tag + parameters
	Info() Info
	// NActions returns the number of arms
	NActions() int
}

// Info is a JSON-serializable snapshot of an environment's fixed parameters.
type Info struct {
	Type     string    `json:"type"`
	NActions int       `json:"n_actions"`
	P        []float64 `json:"p,omitempty"`     // bernoulli success probabilities
	Means    []float64 `json:"means,omitempty"` // gaussian means
	Stds     []float64 `json:"stds,omitempty"`  // gaussian stddevs
}

// New constructs a seeded environment of the given kind. A nil seed means a
// time-based seed (non-reproducible).
func New(envType string, nActions int, seed *int64) (Environment, error) {
	switch envType {
	case TypeBernoulli:
		return NewBernoulli(nActions, seed), nil
	case TypeGaussian:
		return NewGaussian(nActions, seed), nil
	default:
		return nil, fmt.Errorf("unknown environment type %q", envType)
	}
}

// Replicate builds a fresh environment from a snapshot: same arm parameters,
// but an independent RNG seeded with the given seed. The replica goes through
// normal construction (which draws throwaway parameters) before the snapshot
// parameters are copied in, so its RNG position matches a newly built
// environment with the same seed.
func Replicate(info Info, seed *int64) (Environment, error) {
	env, err := New(info.Type, info.NActions, seed)
	if err != nil {
		return nil, err
	}
	switch e := env.(type) {
	case *Bernoulli:
		e.p = append([]float64(nil), info.P...)
	case *Gaussian:
		e.means = append([]float64(nil), info.Means...)
		e.stds = append([]float64(nil), info.Stds...)
	}
	return env, nil
}

func newRNG(seed *int64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewSource(*seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// uniform draws from [lo, hi) using the environment's RNG.
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
