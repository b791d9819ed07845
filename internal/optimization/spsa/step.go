package spsa

import (
	"math"

	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

const (
	// rpropInitialDelta is the starting per-parameter adaptive step.
	rpropInitialDelta = 0.5
	// rpropGrow and rpropShrink scale the adaptive step on consecutive
	// sign agreement and sign flip respectively.
	rpropGrow   = 1.1
	rpropShrink = 0.5
	// rpropMin and rpropMax bound the adaptive step.
	rpropMin = 1e-6
	rpropMax = 50
	// stepScale scales both the capped steepest-descent step and the
	// RPROP contribution.
	stepScale = 0.05
)

// hybridStep applies the two update rules of the hybrid strategy in
// sequence: a steepest-descent step whose magnitude is capped whatever
// the gradient norm, then a per-parameter RPROP step driven only by the
// sign agreement of consecutive gradients. Parameters of a game-playing
// agent live on very different natural scales, which is what the
// per-parameter step buys over a single global rate.
func (m *Minimizer) hybridStep(theta, gradient params.Vector) params.Vector {
	mu := -stepScale / math.Max(1, params.Norm2(gradient))
	theta = params.LinearCombination(1, theta, mu, gradient)

	sign := params.Sign(gradient)
	for _, name := range theta.SortedKeys() {
		agreement := m.rpropSign[name] * sign[name]
		delta := m.rpropDelta[name]
		switch {
		case agreement > 0:
			delta *= rpropGrow
		case agreement < 0:
			delta *= rpropShrink
		}
		delta = math.Min(math.Max(delta, rpropMin), rpropMax)
		m.rpropDelta[name] = delta

		theta[name] -= stepScale * delta * sign[name]
	}
	m.rpropSign = sign

	return theta
}
