package environment

import "math/rand"

// Gaussian has arms paying a normally distributed reward with per-arm mean
// μ[i] ∈ [-1, 1] and stddev σ[i] ∈ [0.1, 1.0].
type Gaussian struct {
	nActions int
	rng      *rand.Rand
	means    []float64
	stds     []float64
}

func NewGaussian(nActions int, seed *int64) *Gaussian {
	e := &Gaussian{
		nActions: nActions,
		rng:      newRNG(seed),
	}
	e.Reset()
	return e
}

func (e *Gaussian) Reset() {
	e.means = make([]float64, e.nActions)
	e.stds = make([]float64, e.nActions)
	for i := 0; i < e.nActions; i++ {
		e.means[i] = uniform(e.rng, -1.0, 1.0)
	}
	for i := 0; i < e.nActions; i++ {
		e.stds[i] = uniform(e.rng, 0.1, 1.0)
	}
}

func (e *Gaussian) Step(action int) float64 {
	return e.means[action] + e.rng.NormFloat64()*e.stds[action]
}

func (e *Gaussian) Info() Info {
	return Info{
		Type:     TypeGaussian,
		NActions: e.nActions,
		Means:    append([]float64(nil), e.means...),
		Stds:     append([]float64(nil), e.stds...),
	}
}

func (e *Gaussian) NActions() int { return e.nActions }
