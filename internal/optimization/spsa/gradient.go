package spsa

import (
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

// approximateGradient estimates the gradient of the objective at theta
// from one paired evaluation at theta+ck*delta and theta-ck*delta. Both
// evaluations run under the same evaluation-RNG seed so a stochastic
// objective sees identical randomness at both points and the shared
// noise cancels out of the finite difference.
//
// On repeated calls the expectation of the returned estimate converges
// almost surely to the true gradient.
func (m *Minimizer) approximateGradient(theta params.Vector, ck float64) (params.Vector, error) {
	var (
		delta  params.Vector
		f1, f2 float64
	)

	// An equal pair gives a null gradient, so redraw the direction.
	// Past the cap the objective is locally flat and a possibly-zero
	// gradient is accepted.
	for attempt := 1; ; attempt++ {
		delta = m.perturbation(theta)
		pairSeed := m.rng.Int63()

		m.evalRNG.Seed(pairSeed)
		v1, err := m.evaluate(params.LinearCombination(1, theta, ck, delta))
		if err != nil {
			return nil, err
		}

		m.evalRNG.Seed(pairSeed)
		v2, err := m.evaluate(params.LinearCombination(1, theta, -ck, delta))
		if err != nil {
			return nil, err
		}

		f1, f2 = v1, v2
		if f1 != f2 {
			break
		}
		if attempt >= flatRetryLimit {
			m.logger.Warn("objective looks flat, accepting null gradient",
				zap.Int("iteration", m.k),
				zap.Int("attempts", attempt))
			break
		}
	}

	raw := make(params.Vector, len(theta))
	for name := range theta {
		raw[name] = (f1 - f2) / (2 * ck * delta[name])
	}

	// When both probes are worse than the rolling goal the objective is
	// degrading locally; damp the sample rather than amplify noise.
	if goal, err := m.history.average(goalWindow); err == nil && f1 > goal.Value && f2 > goal.Value {
		raw = params.Scale(0.1, raw)
	}

	// Adam-style first moment with bias correction. The smoothing
	// recursion runs on the uncorrected moment; dividing by 1-beta^k
	// only when reading it out keeps the estimate unbiased and lets the
	// first sample pass through at full weight.
	moment := params.Scale(1-momentumBeta, raw)
	if m.moment != nil {
		moment = params.LinearCombination(1-momentumBeta, raw, momentumBeta, m.moment)
	}
	m.moment = moment
	corrected := params.Scale(1/(1-math.Pow(momentumBeta, float64(m.k))), moment)
	m.prevGradient = corrected

	return corrected, nil
}

// evaluate calls the objective at p and records the result. Evaluations
// at or below the rolling goal average are also logged to the
// best-so-far history.
func (m *Minimizer) evaluate(p params.Vector) (float64, error) {
	v, err := m.f(p)
	if err != nil {
		return 0, optimization.WrapError(err, "objective evaluation failed").
			WithComponent("spsa").WithOperation("evaluate")
	}

	goal, goalErr := m.history.average(goalWindow)
	rec := optimization.Record{Value: v, Point: p.Clone()}
	m.history.append(rec)
	if goalErr != nil || v <= goal.Value {
		m.best.append(rec)
	}
	return v, nil
}
