// Package optimization defines the contracts shared by the tuning
// algorithms and the layers that drive them.
package optimization

import (
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

// Objective is the function being minimized. It receives a parameter
// vector and returns a finite scalar. It may be stochastic and
// arbitrarily slow; a non-nil error aborts the optimization run.
type Objective func(p params.Vector) (float64, error)

// Constraint maps a parameter vector to the closest point of the search
// domain. It must be idempotent: projecting an already-feasible point is
// a no-op.
type Constraint func(p params.Vector) params.Vector

// Record is a single evaluation of the objective.
type Record struct {
	Value float64
	Point params.Vector
}

// Result is the outcome of one optimization run.
type Result struct {
	// Theta is the final parameter vector.
	Theta params.Vector
	// Iterations is the number of iterations performed.
	Iterations int
	// Goal is the smoothed goal value at the end of the run, averaged
	// over the most recent evaluations.
	Goal float64
}

// ProgressUpdate reports the state of a run in flight.
type ProgressUpdate struct {
	// Iteration is the current 1-based iteration.
	Iteration int
	// MaxIterations is the configured iteration budget.
	MaxIterations int
	// Goal is the rolling average of recent evaluations.
	Goal float64
	// BestGoal is the rolling average over the best-so-far evaluations.
	BestGoal float64
	// Theta is the current iterate.
	Theta params.Vector
}
