// Package objectives provides the built-in benchmark objectives served
// by the tuning API. They are the usual test functions for optimization
// algorithms; all are minimization problems over named parameters.
package objectives

import (
	"math"
	"math/rand"
	"sort"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

// Sphere is sum(v^2) over every parameter. Minimum 0 at the origin.
func Sphere(p params.Vector) (float64, error) {
	s := 0.0
	for _, v := range p {
		s += v * v
	}
	return s, nil
}

// Linear is 100*x + 3*y. Unbounded below; useful for checking steady
// descent along a constant gradient.
func Linear(p params.Vector) (float64, error) {
	return 100*p["x"] + 3*p["y"], nil
}

// Quadratic is x^2 + 4x + 3, with minimum -1 at x = -2.
func Quadratic(p params.Vector) (float64, error) {
	x := p["x"]
	return x*x + 4*x + 3, nil
}

// Rastrigin is the two-dimensional Rastrigin function, minimum 0 at the
// origin.
func Rastrigin(p params.Vector) (float64, error) {
	const a = 10
	x, y := p["x"], p["y"]
	return 2*a + (x*x - a*math.Cos(2*math.Pi*x)) + (y*y - a*math.Cos(2*math.Pi*y)), nil
}

// Rosenbrock is the two-dimensional Rosenbrock function, minimum 0 at
// (1, 1).
func Rosenbrock(p params.Vector) (float64, error) {
	x, y := p["x"], p["y"]
	return 100*(y-x*x)*(y-x*x) + (x-1)*(x-1), nil
}

// Himmelblau has four global minima with value 0, e.g. (3, 2).
func Himmelblau(p params.Vector) (float64, error) {
	x, y := p["x"], p["y"]
	return (x*x+y-11)*(x*x+y-11) + (x+y*y-7)*(x+y*y-7), nil
}

var registry = map[string]optimization.Objective{
	"sphere":     Sphere,
	"linear":     Linear,
	"quadratic":  Quadratic,
	"rastrigin":  Rastrigin,
	"rosenbrock": Rosenbrock,
	"himmelblau": Himmelblau,
}

// Lookup returns the named benchmark objective.
func Lookup(name string) (optimization.Objective, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Noisy wraps f with additive uniform noise in [-scale/2, scale/2] drawn
// from rng. Sharing rng with the minimizer lets paired gradient
// evaluations see identical noise (common random numbers).
func Noisy(f optimization.Objective, scale float64, rng *rand.Rand) optimization.Objective {
	return func(p params.Vector) (float64, error) {
		v, err := f(p)
		if err != nil {
			return 0, err
		}
		return v + scale*(rng.Float64()-0.5), nil
	}
}
