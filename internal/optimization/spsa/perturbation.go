package spsa

import (
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

const (
	// minComponent floors the magnitude of every perturbation component
	// so the finite-difference denominator never vanishes.
	minComponent = 0.2
	// gradientNormThreshold gates the blend toward the previous
	// gradient direction.
	gradientNormThreshold = 1e-5
)

// perturbation draws the random direction used to probe the objective:
// an independent fair +-1 per parameter, blended toward the previous
// smoothed gradient when one is available. Directions that recently
// proved informative are sampled more often while the draw stays
// stochastic.
func (m *Minimizer) perturbation(theta params.Vector) params.Vector {
	delta := make(params.Vector, len(theta))
	for _, name := range theta.SortedKeys() {
		if m.rng.Intn(2) == 0 {
			delta[name] = -1
		} else {
			delta[name] = 1
		}
	}

	g := params.Norm2(m.prevGradient)
	if g > gradientNormThreshold {
		d := params.Norm2(delta)
		delta = params.LinearCombination(0.55, delta, 0.25*d/g, m.prevGradient)
	}

	// Floor every component at +-minComponent, keeping its sign. An
	// exact zero counts as positive.
	for name, v := range delta {
		switch {
		case v >= 0 && v < minComponent:
			delta[name] = minComponent
		case v < 0 && v > -minComponent:
			delta[name] = -minComponent
		}
	}
	return delta
}
