// Package spsa implements Simultaneous Perturbation Stochastic
// Approximation, a gradient-free minimizer for noisy, expensive
// black-box objectives. The gradient is estimated from two paired
// evaluations along one random direction per iteration, regardless of
// the number of parameters, following:
//
//   - Spall JC (1998), Implementation of the Simultaneous Perturbation
//     Algorithm for Stochastic Optimization, IEEE Trans Aerosp Electron
//     Syst 34(3):817-823
//   - Kocsis & Szepesvari (2006), Universal Parameter Optimisation in
//     Games based on SPSA, Mach Learn 63:249-286
package spsa

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

// Rule selects the parameter update strategy.
type Rule int

const (
	// RuleHybrid combines a norm-capped steepest-descent step with a
	// per-parameter RPROP-style adaptive step. This is the default.
	RuleHybrid Rule = iota
	// RuleSPSA is the classical decaying-rate update
	// theta <- theta - a_k * gradient with a_k = a/(k+A)^alpha.
	RuleSPSA
)

const (
	// goalWindow is the number of recent evaluations averaged into the
	// smoothed goal estimate.
	goalWindow = 30
	// flatRetryLimit caps perturbation redraws when the paired
	// evaluations come back numerically equal.
	flatRetryLimit = 100
	// momentumBeta is the exponential smoothing weight on the gradient
	// history (Adam-style first moment).
	momentumBeta = 0.9
)

// Options configures a Minimizer. The zero value of every field is
// replaced by a sensible default except MaxIterations, which is
// required.
type Options struct {
	// InitialStep is the SPSA "a" constant. Defaults to 1.1 for
	// RuleHybrid and 0.5 for RuleSPSA.
	InitialStep float64
	// PerturbationScale is the SPSA "c" constant. Default 0.1.
	PerturbationScale float64
	// Alpha is the step decay exponent. Must be in (0, 1]. Default
	// 0.70 (theoretical value 0.601).
	Alpha float64
	// Gamma is the perturbation decay exponent. Must be in (0, 1/6].
	// Default 0.12 (theoretical value 0.101).
	Gamma float64
	// Stability is the SPSA "A" offset in the step decay schedule.
	// Defaults to MaxIterations/10.
	Stability float64
	// MaxIterations is the iteration budget. Required. The run always
	// spends the full budget; there is no convergence criterion.
	MaxIterations int
	// Rule selects the update strategy.
	Rule Rule
	// Seed seeds the minimizer's random source. Zero means seed from
	// the wall clock.
	Seed int64
	// SharedRNG, when set, is the generator a stochastic objective
	// draws from. The minimizer re-seeds it identically before each
	// evaluation of a perturbed pair so both see the same randomness
	// (common random numbers).
	SharedRNG *rand.Rand
	// Constraint, when set, projects the iterate onto the search
	// domain at the start of every iteration, before any evaluation.
	Constraint optimization.Constraint
	// OnProgress, when set, receives periodic progress summaries.
	OnProgress func(optimization.ProgressUpdate)
	// Logger receives structured progress logs. Defaults to a no-op
	// logger.
	Logger *zap.Logger
}

func (o *Options) withDefaults() {
	if o.InitialStep == 0 {
		if o.Rule == RuleSPSA {
			o.InitialStep = 0.5
		} else {
			o.InitialStep = 1.1
		}
	}
	if o.PerturbationScale == 0 {
		o.PerturbationScale = 0.1
	}
	if o.Alpha == 0 {
		o.Alpha = 0.70
	}
	if o.Gamma == 0 {
		o.Gamma = 0.12
	}
	if o.Stability == 0 {
		o.Stability = float64(o.MaxIterations) / 10.0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *Options) validate() error {
	fail := func(format string, args ...interface{}) error {
		return optimization.NewErrorf(format, args...).
			WithComponent("spsa").WithOperation("configure")
	}
	if o.MaxIterations <= 0 {
		return fail("max iterations must be positive, got %d", o.MaxIterations)
	}
	if o.InitialStep <= 0 {
		return fail("initial step must be positive, got %g", o.InitialStep)
	}
	if o.PerturbationScale <= 0 {
		return fail("perturbation scale must be positive, got %g", o.PerturbationScale)
	}
	if o.Alpha <= 0 || o.Alpha > 1 {
		return fail("alpha must be in (0, 1], got %g", o.Alpha)
	}
	if o.Gamma <= 0 || o.Gamma > 1.0/6.0 {
		return fail("gamma must be in (0, 1/6], got %g", o.Gamma)
	}
	if o.Stability < 0 {
		return fail("stability offset must not be negative, got %g", o.Stability)
	}
	return nil
}

// Minimizer runs one SPSA minimization pass. It owns the iterate, the
// gradient memory and the evaluation history; instances are not safe
// for concurrent use and execute exactly one Run.
type Minimizer struct {
	f      optimization.Objective
	theta0 params.Vector
	opts   Options
	logger *zap.Logger

	// rng drives perturbation draws and pair seeds; evalRNG is the
	// generator shared with a stochastic objective.
	rng     *rand.Rand
	evalRNG *rand.Rand

	// moment is the exponentially smoothed gradient; prevGradient is
	// its bias-corrected read-out from the previous iteration, used by
	// the perturbation generator and the RPROP step.
	moment       params.Vector
	prevGradient params.Vector

	// RPROP state: sign of the previous gradient and the per-parameter
	// adaptive step magnitude.
	rpropSign  params.Vector
	rpropDelta params.Vector

	history evalLog
	best    evalLog

	k   int
	ran bool
}

// New creates a Minimizer for objective f starting from theta0. The key
// set of theta0 fixes the parameter names for the whole run.
func New(f optimization.Objective, theta0 params.Vector, opts Options) (*Minimizer, error) {
	if f == nil {
		return nil, optimization.NewError("objective must not be nil").
			WithComponent("spsa").WithOperation("configure")
	}
	if len(theta0) == 0 {
		return nil, optimization.NewError("initial point must have at least one parameter").
			WithComponent("spsa").WithOperation("configure")
	}

	opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	evalRNG := opts.SharedRNG
	if evalRNG == nil {
		evalRNG = rand.New(rand.NewSource(seed + 1))
	}

	return &Minimizer{
		f:          f,
		theta0:     theta0.Clone(),
		opts:       opts,
		logger:     opts.Logger,
		rng:        rand.New(rand.NewSource(seed)),
		evalRNG:    evalRNG,
		rpropSign:  params.CopyAndFill(theta0, 0),
		rpropDelta: params.CopyAndFill(theta0, rpropInitialDelta),
	}, nil
}

// Run executes the minimization and returns the final parameter vector.
// It always spends the full iteration budget unless ctx is cancelled or
// the objective fails. A Minimizer runs exactly once.
func (m *Minimizer) Run(ctx context.Context) (optimization.Result, error) {
	if m.ran {
		return optimization.Result{}, optimization.NewError("minimizer has already run").
			WithComponent("spsa").WithOperation("run")
	}
	m.ran = true

	theta := m.theta0.Clone()
	m.logger.Info("starting minimization",
		zap.Int("max_iterations", m.opts.MaxIterations),
		zap.Int("parameters", len(theta)))

	for k := 1; k <= m.opts.MaxIterations; k++ {
		select {
		case <-ctx.Done():
			return optimization.Result{}, ctx.Err()
		default:
		}

		if m.opts.Constraint != nil {
			theta = m.opts.Constraint(theta)
		}

		m.k = k
		ck := m.opts.PerturbationScale / math.Pow(float64(k), m.opts.Gamma)

		gradient, err := m.approximateGradient(theta, ck)
		if err != nil {
			return optimization.Result{}, err
		}

		switch m.opts.Rule {
		case RuleSPSA:
			ak := m.opts.InitialStep / math.Pow(float64(k)+m.opts.Stability, m.opts.Alpha)
			theta = params.LinearCombination(1, theta, -ak, gradient)
		default:
			theta = m.hybridStep(theta, gradient)
		}

		if k <= 1000 || k%100 == 0 {
			m.reportProgress(k, theta)
		}
	}

	goal, err := m.history.average(goalWindow)
	if err != nil {
		return optimization.Result{}, err
	}
	m.logger.Info("minimization finished",
		zap.Int("iterations", m.opts.MaxIterations),
		zap.Float64("goal", goal.Value))

	return optimization.Result{
		Theta:      theta,
		Iterations: m.opts.MaxIterations,
		Goal:       goal.Value,
	}, nil
}

// Evaluations returns the number of objective evaluations made so far.
func (m *Minimizer) Evaluations() int {
	return m.history.count
}

// AverageEvaluations returns the mean of the last n evaluations, both
// goal value and parameter vector, without new objective calls.
func (m *Minimizer) AverageEvaluations(n int) (optimization.Record, error) {
	return m.history.average(n)
}

// AverageBestEvaluations is AverageEvaluations over the evaluations
// that beat the rolling goal average when they were recorded.
func (m *Minimizer) AverageBestEvaluations(n int) (optimization.Record, error) {
	return m.best.average(n)
}

func (m *Minimizer) reportProgress(k int, theta params.Vector) {
	goal, err := m.history.average(goalWindow)
	if err != nil {
		return
	}

	update := optimization.ProgressUpdate{
		Iteration:     k,
		MaxIterations: m.opts.MaxIterations,
		Goal:          goal.Value,
		Theta:         theta.Clone(),
	}
	if best, err := m.best.average(goalWindow); err == nil {
		update.BestGoal = best.Value
	}
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(update)
	}

	fields := []zap.Field{
		zap.Int("iteration", k),
		zap.Float64("goal", goal.Value),
		zap.Float64("best_goal", update.BestGoal),
	}
	if k%100 == 0 {
		m.logger.Info("tuning progress", fields...)
	} else {
		m.logger.Debug("tuning progress", fields...)
	}
}
