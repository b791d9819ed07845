package params

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(rng *rand.Rand, names ...string) Vector {
	v := make(Vector, len(names))
	for _, name := range names {
		v[name] = 20*rng.Float64() - 10
	}
	return v
}

func assertVectorsEqual(t *testing.T, want, got Vector, tol float64) {
	t.Helper()
	require.Equal(t, len(want), len(got), "key sets should match")
	for name, value := range want {
		assert.InDelta(t, value, got[name], tol, "component %q", name)
	}
}

func TestLinearCombinationIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		m := randomVector(rng, "x", "y", "z")
		assertVectorsEqual(t, m, LinearCombination(1, m, 0, m), 0)
	}
}

func TestLinearCombinationMissingKeysDefaultToZero(t *testing.T) {
	m1 := Vector{"x": 2, "y": 3}
	m2 := Vector{"y": 1, "z": 5}

	got := LinearCombination(1, m1, 2, m2)
	assertVectorsEqual(t, Vector{"x": 2, "y": 5, "z": 10}, got, 1e-12)
}

func TestDiffAndSumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		m1 := randomVector(rng, "a", "b", "c")
		m2 := randomVector(rng, "a", "b", "c")

		assertVectorsEqual(t, CopyAndFill(m1, 0), Diff(m1, m1), 0)
		assertVectorsEqual(t, m1, Sum(Diff(m1, m2), m2), 1e-12)
	}
}

func TestNorms(t *testing.T) {
	assert.Equal(t, 0.0, Norm2(Vector{}))
	assert.Equal(t, 0.0, Norm2(Vector{"x": 0, "y": 0}))
	assert.Equal(t, 5.0, Norm2(Vector{"x": 3, "y": -4}))
	assert.Equal(t, 7.0, Norm1(Vector{"x": 3, "y": -4}))

	// Triangle inequality, sampled numerically.
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		m1 := randomVector(rng, "x", "y", "z")
		m2 := randomVector(rng, "x", "y", "z")
		assert.LessOrEqual(t, Norm2(Sum(m1, m2)), Norm2(m1)+Norm2(m2)+1e-12)
		assert.LessOrEqual(t, Norm1(Sum(m1, m2)), Norm1(m1)+Norm1(m2)+1e-12)
		assert.GreaterOrEqual(t, Norm2(m1), 0.0)
	}
}

func TestHadamard(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 100; i++ {
		m1 := randomVector(rng, "x", "y")
		m2 := randomVector(rng, "x", "y")
		m3 := randomVector(rng, "x", "y")

		// Commutative.
		assertVectorsEqual(t, Hadamard(m1, m2), Hadamard(m2, m1), 1e-12)

		// Distributes over Sum.
		want := Sum(Hadamard(m1, m2), Hadamard(m1, m3))
		assertVectorsEqual(t, want, Hadamard(m1, Sum(m2, m3)), 1e-9)
	}
}

func TestSign(t *testing.T) {
	assert.Equal(t, 1.0, SignOf(0.3))
	assert.Equal(t, -1.0, SignOf(-7.0))
	assert.Equal(t, 0.0, SignOf(0))

	got := Sign(Vector{"a": -2.5, "b": 0, "c": 11})
	assertVectorsEqual(t, Vector{"a": -1, "b": 0, "c": 1}, got, 0)
}

func TestCopyAndFill(t *testing.T) {
	m := Vector{"x": 1, "y": 2, "z": 3}
	got := CopyAndFill(m, 0.5)
	assertVectorsEqual(t, Vector{"x": 0.5, "y": 0.5, "z": 0.5}, got, 0)

	// Source untouched.
	assert.Equal(t, 1.0, m["x"])
}

func TestCloneIsIndependent(t *testing.T) {
	m := Vector{"x": 1}
	c := m.Clone()
	c["x"] = 9
	assert.Equal(t, 1.0, m["x"])
}

func TestSortedKeys(t *testing.T) {
	m := Vector{"rook": 5, "bishop": 3, "queen": 9}
	assert.Equal(t, []string{"bishop", "queen", "rook"}, m.SortedKeys())
}

func TestScale(t *testing.T) {
	got := Scale(-2, Vector{"x": 1.5, "y": -3})
	assertVectorsEqual(t, Vector{"x": -3, "y": 6}, got, 1e-12)
	assert.False(t, math.IsNaN(got["x"]))
}
