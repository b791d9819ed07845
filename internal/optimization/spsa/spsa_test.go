package spsa

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/objectives"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

func newTestMinimizer(t *testing.T, f optimization.Objective, theta0 params.Vector, opts Options) *Minimizer {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	m, err := New(f, theta0, opts)
	require.NoError(t, err)
	return m
}

func TestOptionsValidation(t *testing.T) {
	theta0 := params.Vector{"x": 1}
	ok := func(p params.Vector) (float64, error) { return 0, nil }

	tests := []struct {
		name   string
		f      optimization.Objective
		theta0 params.Vector
		opts   Options
	}{
		{"nil objective", nil, theta0, Options{MaxIterations: 10}},
		{"empty initial point", ok, params.Vector{}, Options{MaxIterations: 10}},
		{"zero max iterations", ok, theta0, Options{}},
		{"negative max iterations", ok, theta0, Options{MaxIterations: -1}},
		{"alpha above one", ok, theta0, Options{MaxIterations: 10, Alpha: 1.5}},
		{"gamma above one sixth", ok, theta0, Options{MaxIterations: 10, Gamma: 0.2}},
		{"negative initial step", ok, theta0, Options{MaxIterations: 10, InitialStep: -0.5}},
		{"negative perturbation scale", ok, theta0, Options{MaxIterations: 10, PerturbationScale: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.f, tt.theta0, tt.opts)
			require.Error(t, err)
			e, isOpt := optimization.AsError(err)
			require.True(t, isOpt, "should be an optimization error")
			assert.Equal(t, "spsa", e.Component)
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{MaxIterations: 1000}
	o.withDefaults()
	assert.Equal(t, 1.1, o.InitialStep)
	assert.Equal(t, 0.1, o.PerturbationScale)
	assert.Equal(t, 0.70, o.Alpha)
	assert.Equal(t, 0.12, o.Gamma)
	assert.Equal(t, 100.0, o.Stability)

	classic := Options{MaxIterations: 1000, Rule: RuleSPSA}
	classic.withDefaults()
	assert.Equal(t, 0.5, classic.InitialStep)
}

func TestPerturbationIsBernoulliWithoutGradientMemory(t *testing.T) {
	theta := params.Vector{"a": 1, "b": 2, "c": 3}
	m := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})

	sawPlus, sawMinus := false, false
	for i := 0; i < 200; i++ {
		delta := m.perturbation(theta)
		for name, v := range delta {
			assert.Contains(t, []float64{-1, 1}, v, "component %q", name)
			sawPlus = sawPlus || v == 1
			sawMinus = sawMinus || v == -1
		}
	}
	assert.True(t, sawPlus, "should draw +1")
	assert.True(t, sawMinus, "should draw -1")
}

func TestPerturbationFloorAfterBlending(t *testing.T) {
	theta := params.Vector{"a": 1, "b": 2, "c": 3}
	m := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})

	// A previous gradient dominated by one component can cancel most of
	// that component's +-0.55 after blending; the floor must catch it.
	m.prevGradient = params.Vector{"a": 10, "b": 0.01, "c": 0.01}
	for i := 0; i < 500; i++ {
		delta := m.perturbation(theta)
		for name, v := range delta {
			assert.GreaterOrEqual(t, math.Abs(v), minComponent,
				"component %q must not fall below the floor", name)
		}
	}
}

func TestRPROPDeltaGrowsOnConsistentSign(t *testing.T) {
	theta := params.Vector{"x": 0.0}
	m := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})

	gradient := params.Vector{"x": 2.5}
	m.hybridStep(theta.Clone(), gradient) // primes the sign memory

	prev := m.rpropDelta["x"]
	for i := 0; i < 60; i++ {
		m.hybridStep(theta.Clone(), gradient)
		current := m.rpropDelta["x"]
		if prev < rpropMax {
			assert.Greater(t, current, prev, "delta should grow on sign agreement")
		}
		assert.LessOrEqual(t, current, float64(rpropMax))
		prev = current
	}
	assert.Equal(t, float64(rpropMax), prev, "delta should saturate at the cap")
}

func TestRPROPDeltaShrinksOnOscillation(t *testing.T) {
	theta := params.Vector{"x": 0.0}
	m := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})

	sign := 1.0
	m.hybridStep(theta.Clone(), params.Vector{"x": sign})

	prev := m.rpropDelta["x"]
	for i := 0; i < 40; i++ {
		sign = -sign
		m.hybridStep(theta.Clone(), params.Vector{"x": sign})
		current := m.rpropDelta["x"]
		if prev > rpropMin {
			assert.Less(t, current, prev, "delta should shrink on sign flips")
		}
		assert.GreaterOrEqual(t, current, float64(rpropMin))
		prev = current
	}
}

func TestRPROPStepDirectionFollowsGradientSign(t *testing.T) {
	theta := params.Vector{"x": 0.0}
	m := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})

	out := m.hybridStep(theta.Clone(), params.Vector{"x": 3.0})
	assert.Less(t, out["x"], 0.0, "positive gradient should push x down")

	m2 := newTestMinimizer(t, objectives.Sphere, theta, Options{MaxIterations: 10})
	out = m2.hybridStep(theta.Clone(), params.Vector{"x": -3.0})
	assert.Greater(t, out["x"], 0.0, "negative gradient should push x up")
}

func TestMinimizeLinearDescends(t *testing.T) {
	var goals []float64
	opts := Options{
		MaxIterations: 1000,
		Seed:          7,
		OnProgress: func(u optimization.ProgressUpdate) {
			if u.Iteration%100 == 0 {
				goals = append(goals, u.Goal)
			}
		},
	}
	m := newTestMinimizer(t, objectives.Linear, params.Vector{"x": 3, "y": 2}, opts)

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// The gradient is constant (100, 3): x must fall well below its
	// starting point and the goal must decrease window over window.
	assert.Less(t, result.Theta["x"], -10.0)
	require.GreaterOrEqual(t, len(goals), 10)
	for i := 1; i < len(goals); i++ {
		assert.Less(t, goals[i], goals[i-1],
			"goal should decrease across successive 100-iteration windows")
	}
}

func TestMinimizeQuadraticConverges(t *testing.T) {
	m := newTestMinimizer(t, objectives.Quadratic, params.Vector{"x": 10},
		Options{MaxIterations: 2000, Seed: 11, Rule: RuleSPSA})

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// True minimum is f(-2) = -1. The decaying-rate rule settles onto
	// the minimum of a smooth deterministic objective; the hybrid rule
	// trades that asymptotic behavior for sign-driven robustness on
	// noisy objectives and keeps probing instead of settling.
	assert.InDelta(t, -2, result.Theta["x"], 0.5)
	assert.InDelta(t, -1, result.Goal, 0.5)
}

func TestMinimizeNoisyQuadraticWithSharedRNG(t *testing.T) {
	shared := rand.New(rand.NewSource(5))
	noisy := objectives.Noisy(objectives.Quadratic, 0.2, shared)
	m := newTestMinimizer(t, noisy, params.Vector{"x": 10},
		Options{MaxIterations: 2000, Seed: 11, Rule: RuleSPSA, SharedRNG: shared})

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// Both paired evaluations run under the same seed, so the noise
	// cancels out of the finite difference and convergence matches the
	// noiseless case.
	assert.InDelta(t, -2, result.Theta["x"], 0.5)
	assert.InDelta(t, -1, result.Goal, 0.5)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	run := func() (optimization.Result, []params.Vector) {
		var trajectory []params.Vector
		shared := rand.New(rand.NewSource(99))
		opts := Options{
			MaxIterations: 300,
			Seed:          7,
			SharedRNG:     shared,
			OnProgress: func(u optimization.ProgressUpdate) {
				trajectory = append(trajectory, u.Theta)
			},
		}
		noisy := objectives.Noisy(objectives.Quadratic, 0.2, shared)
		m := newTestMinimizer(t, noisy, params.Vector{"x": 5}, opts)
		result, err := m.Run(context.Background())
		require.NoError(t, err)
		return result, trajectory
	}

	r1, t1 := run()
	r2, t2 := run()

	assert.Equal(t, r1.Theta, r2.Theta)
	assert.Equal(t, r1.Goal, r2.Goal)
	require.Equal(t, len(t1), len(t2))
	for i := range t1 {
		assert.Equal(t, t1[i], t2[i], "iterate %d should match", i)
	}
}

func TestFlatObjectiveIsNotFatal(t *testing.T) {
	flat := func(p params.Vector) (float64, error) { return 1.0, nil }
	m := newTestMinimizer(t, flat, params.Vector{"x": 2}, Options{MaxIterations: 2})

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	// Null gradient: the iterate must not move.
	assert.Equal(t, 2.0, result.Theta["x"])
	// Each iteration burned the full retry budget, two evaluations per
	// attempt.
	assert.Equal(t, 2*2*flatRetryLimit, m.Evaluations())
}

func TestObjectiveErrorAbortsRun(t *testing.T) {
	boom := errors.New("engine exploded")
	failing := func(p params.Vector) (float64, error) { return 0, boom }
	m := newTestMinimizer(t, failing, params.Vector{"x": 1}, Options{MaxIterations: 100})

	_, err := m.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunIsNotReentrant(t *testing.T) {
	m := newTestMinimizer(t, objectives.Sphere, params.Vector{"x": 1}, Options{MaxIterations: 5})

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already run")
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newTestMinimizer(t, objectives.Sphere, params.Vector{"x": 1}, Options{MaxIterations: 100})
	_, err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConstraintProjectionIsApplied(t *testing.T) {
	clamp := func(p params.Vector) params.Vector {
		out := p.Clone()
		if out["x"] < 0 {
			out["x"] = 0
		}
		return out
	}
	var projected []float64
	constraint := func(p params.Vector) params.Vector {
		out := clamp(p)
		projected = append(projected, out["x"])
		return out
	}

	m := newTestMinimizer(t, objectives.Linear, params.Vector{"x": 1, "y": 0},
		Options{MaxIterations: 200, Seed: 3, Constraint: constraint})
	result, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, projected, 200, "constraint runs once per iteration")
	for _, x := range projected {
		assert.GreaterOrEqual(t, x, 0.0)
	}
	// The descent direction pushes x negative; the projection keeps the
	// evaluated iterate feasible. Only the final unprojected update may
	// dip below.
	assert.GreaterOrEqual(t, clamp(result.Theta)["x"], 0.0)
}

func TestAverageEvaluationsBeforeRunFails(t *testing.T) {
	m := newTestMinimizer(t, objectives.Sphere, params.Vector{"x": 1}, Options{MaxIterations: 5})
	_, err := m.AverageEvaluations(10)
	assert.ErrorIs(t, err, ErrNoEvaluations)
	_, err = m.AverageBestEvaluations(10)
	assert.ErrorIs(t, err, ErrNoEvaluations)
}

func TestBestHistoryTracksImprovingEvaluations(t *testing.T) {
	m := newTestMinimizer(t, objectives.Quadratic, params.Vector{"x": 10},
		Options{MaxIterations: 500, Seed: 13})
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	all, err := m.AverageEvaluations(goalWindow)
	require.NoError(t, err)
	best, err := m.AverageBestEvaluations(goalWindow)
	require.NoError(t, err)
	assert.LessOrEqual(t, best.Value, all.Value+1e-9,
		"best log should not be worse than the full history")
}
