// Package params implements arithmetic over named real-valued parameter
// vectors. A Vector maps a parameter name to its value; every operation
// treats a key missing from an operand as 0.
package params

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Vector is a named real-valued parameter vector.
type Vector map[string]float64

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for name, value := range v {
		out[name] = value
	}
	return out
}

// SortedKeys returns the parameter names in sorted order. Map iteration
// order is randomized in Go, so every per-parameter consumer of
// randomness must walk keys in this order to keep seeded runs
// reproducible.
func (v Vector) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for name := range v {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// values collects the vector's values in sorted-key order.
func (v Vector) values() []float64 {
	vals := make([]float64, 0, len(v))
	for _, name := range v.SortedKeys() {
		vals = append(vals, v[name])
	}
	return vals
}

// LinearCombination returns alpha*m1 + beta*m2 over the union of keys.
func LinearCombination(alpha float64, m1 Vector, beta float64, m2 Vector) Vector {
	out := make(Vector, len(m1))
	for name, value := range m1 {
		out[name] = alpha*value + beta*m2[name]
	}
	for name, value := range m2 {
		if _, seen := m1[name]; !seen {
			out[name] = beta * value
		}
	}
	return out
}

// Scale returns alpha*m.
func Scale(alpha float64, m Vector) Vector {
	return LinearCombination(alpha, m, 0, nil)
}

// Sum returns m1 + m2.
func Sum(m1, m2 Vector) Vector {
	return LinearCombination(1, m1, 1, m2)
}

// Diff returns m1 - m2.
func Diff(m1, m2 Vector) Vector {
	return LinearCombination(1, m1, -1, m2)
}

// Hadamard returns the componentwise product of m1 and m2.
func Hadamard(m1, m2 Vector) Vector {
	out := make(Vector, len(m1))
	for name, value := range m1 {
		out[name] = value * m2[name]
	}
	return out
}

// Norm1 returns the L1 norm of m.
func Norm1(m Vector) float64 {
	if len(m) == 0 {
		return 0
	}
	return floats.Norm(m.values(), 1)
}

// Norm2 returns the L2 norm of m.
func Norm2(m Vector) float64 {
	if len(m) == 0 {
		return 0
	}
	return floats.Norm(m.values(), 2)
}

// SignOf returns -1, 0 or +1 according to the sign of x.
func SignOf(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Sign returns the componentwise sign of m.
func Sign(m Vector) Vector {
	out := make(Vector, len(m))
	for name, value := range m {
		out[name] = SignOf(value)
	}
	return out
}

// CopyAndFill returns a vector with the same keys as m and every value
// set to x.
func CopyAndFill(m Vector, x float64) Vector {
	out := make(Vector, len(m))
	for name := range m {
		out[name] = x
	}
	return out
}
