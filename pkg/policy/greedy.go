package policy

import "math/rand"

// DefaultEpsilon is the exploration rate used when the plot API selects
// epsilon_greedy without parameters.
const DefaultEpsilon = 0.1

// Greedy always exploits: uniform-random choice among arms achieving max(q).
type Greedy struct {
	rng *rand.Rand
	estimator
}

func NewGreedy(nActions int, seed *int64) *Greedy {
	return &Greedy{
		rng:       newRNG(seed),
		estimator: newEstimator(nActions),
	}
}

func (g *Greedy) SelectAction() (int, error) {
	return argmaxRand(g.rng, g.q), nil
}

func (g *Greedy) Update(action int, reward float64) {
	g.observe(action, reward)
}

// EpsilonGreedy explores a uniformly random arm with probability epsilon,
// independent of the value estimates, and otherwise behaves as Greedy.
type EpsilonGreedy struct {
	rng     *rand.Rand
	epsilon float64
	estimator
}

func NewEpsilonGreedy(nActions int, seed *int64, epsilon float64) *EpsilonGreedy {
	return &EpsilonGreedy{
		rng:       newRNG(seed),
		epsilon:   epsilon,
		estimator: newEstimator(nActions),
	}
}

func (g *EpsilonGreedy) SelectAction() (int, error) {
	if g.rng.Float64() < g.epsilon {
		return g.rng.Intn(len(g.q)), nil
	}
	return argmaxRand(g.rng, g.q), nil
}

func (g *EpsilonGreedy) Update(action int, reward float64) {
	g.observe(action, reward)
}
