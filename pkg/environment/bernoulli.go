package environment

import "math/rand"

// Bernoulli has arms paying 1.0 with per-arm probability p[i] ∈ [0.1, 0.9],
// otherwise 0.0.
type Bernoulli struct {
	nActions int
	rng      *rand.Rand
	p        []float64
}

func NewBernoulli(nActions int, seed *int64) *Bernoulli {
	e := &Bernoulli{
		nActions: nActions,
		rng:      newRNG(seed),
	}
	e.Reset()
	return e
}

func (e *Bernoulli) Reset() {
	e.p = make([]float64, e.nActions)
	for i := range e.p {
		e.p[i] = uniform(e.rng, 0.1, 0.9)
	}
}

func (e *Bernoulli) Step(action int) float64 {
	if e.rng.Float64() < e.p[action] {
		return 1.0
	}
	return 0.0
}

func (e *Bernoulli) Info() Info {
	return Info{
		Type:     TypeBernoulli,
		NActions: e.nActions,
		P:        append([]float64(nil), e.p...),
	}
}

func (e *Bernoulli) NActions() int { return e.nActions }
