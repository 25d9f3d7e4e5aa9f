package policy

import (
	"fmt"
	"math/rand"
	"time"
)

// Built-in policy keys as used by the plot API.
const (
	KeyGreedy        = "greedy"
	KeyEpsilonGreedy = "epsilon_greedy"
	KeyUCB1          = "ucb1"
	KeyThompson      = "thompson"
)

// Policy is a stateful decision strategy: SelectAction picks the next arm,
// Update feeds back the observed reward. Built-in policies never return an
// error from SelectAction; only the external adapter can.
type Policy interface {
	SelectAction() (int, error)
	Update(action int, reward float64)
}

// New constructs a built-in policy by key, seeded for reproducibility.
func New(key string, nActions int, seed *int64) (Policy, error) {
	switch key {
	case KeyGreedy:
		return NewGreedy(nActions, seed), nil
	case KeyEpsilonGreedy:
		return NewEpsilonGreedy(nActions, seed, DefaultEpsilon), nil
	case KeyUCB1:
		return NewUCB1(nActions, seed), nil
	case KeyThompson:
		return NewThompson(nActions, seed), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", key)
	}
}

// Keys returns the built-in policy keys.
func Keys() []string {
	return []string{KeyGreedy, KeyEpsilonGreedy, KeyUCB1, KeyThompson}
}

func newRNG(seed *int64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewSource(*seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// argmaxRand returns the index of the maximum value, breaking ties uniformly
// at random among all argmax candidates (never "first index").
func argmaxRand(rng *rand.Rand, vals []float64) int {
	max := vals[0]
	for _, v := range vals[1:] {
		if v > max {
			max = v
		}
	}
	candidates := make([]int, 0, len(vals))
	for i, v := range vals {
		if v == max {
			candidates = append(candidates, i)
		}
	}
	return candidates[rng.Intn(len(candidates))]
}

// estimator keeps per-arm pull counts and running value estimates with the
// incremental mean update q[a] += (r - q[a]) / counts[a].
type estimator struct {
	q      []float64
	counts []int
}

func newEstimator(nActions int) estimator {
	return estimator{
		q:      make([]float64, nActions),
		counts: make([]int, nActions),
	}
}

func (e *estimator) observe(action int, reward float64) {
	e.counts[action]++
	e.q[action] += (reward - e.q[action]) / float64(e.counts[action])
}
