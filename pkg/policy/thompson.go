package policy

import (
	"math"
	"math/rand"
)

// Thompson implements Thompson Sampling with Beta(1,1) priors per arm.
//
// Update treats a reward of exactly 1 as a success and anything else as a
// failure. For Gaussian rewards this misclassifies nearly every draw; the
// behavior is kept literal on purpose (teaching sandbox).
type Thompson struct {
	rng       *rand.Rand
	successes []int
	failures  []int
}

func NewThompson(nActions int, seed *int64) *Thompson {
	t := &Thompson{
		rng:       newRNG(seed),
		successes: make([]int, nActions),
		failures:  make([]int, nActions),
	}
	for i := 0; i < nActions; i++ {
		t.successes[i] = 1
		t.failures[i] = 1
	}
	return t
}

func (t *Thompson) SelectAction() (int, error) {
	samples := make([]float64, len(t.successes))
	for i := range samples {
		samples[i] = betaSample(t.rng, float64(t.successes[i]), float64(t.failures[i]))
	}
	return argmaxRand(t.rng, samples), nil
}

func (t *Thompson) Update(action int, reward float64) {
	if reward == 1 {
		t.successes[action]++
	} else {
		t.failures[action]++
	}
}

// betaSample samples from Beta(alpha, beta) via two Gamma draws.
func betaSample(rng *rand.Rand, alpha, beta float64) float64 {
	x := gammaSample(rng, alpha)
	y := gammaSample(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample samples from Gamma(alpha, 1) using the Marsaglia-Tsang method.
func gammaSample(rng *rand.Rand, alpha float64) float64 {
	if alpha < 1 {
		// Gamma(alpha) = Gamma(alpha+1) * U^(1/alpha)
		return gammaSample(rng, alpha+1) * math.Pow(rng.Float64(), 1.0/alpha)
	}
	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
