package policy

import (
	"math"
	"math/rand"
)

// UCB1 visits arms 0..n-1 in index order until every arm has been pulled
// once (the cold-start phase is deterministic), then scores each arm with
// q[a] + sqrt(2·ln(totalSteps)/counts[a]) and picks uniform-random among
// the score-argmax ties.
type UCB1 struct {
	rng        *rand.Rand
	totalSteps int
	estimator
}

func NewUCB1(nActions int, seed *int64) *UCB1 {
	return &UCB1{
		rng:       newRNG(seed),
		estimator: newEstimator(nActions),
	}
}

func (u *UCB1) SelectAction() (int, error) {
	// totalSteps counts every call, cold-start calls included
	u.totalSteps++
	for i, c := range u.counts {
		if c == 0 {
			return i, nil
		}
	}
	scores := make([]float64, len(u.q))
	for i := range scores {
		scores[i] = u.q[i] + math.Sqrt(2.0*math.Log(float64(u.totalSteps))/float64(u.counts[i]))
	}
	return argmaxRand(u.rng, scores), nil
}

func (u *UCB1) Update(action int, reward float64) {
	u.observe(action, reward)
}
