package spsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

func record(v float64) optimization.Record {
	return optimization.Record{Value: v, Point: params.Vector{"x": v}}
}

func TestEvalLogEmpty(t *testing.T) {
	var l evalLog
	_, err := l.average(10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEvaluations)
}

func TestEvalLogAverage(t *testing.T) {
	var l evalLog
	for i := 1; i <= 4; i++ {
		l.append(record(float64(i)))
	}

	got, err := l.average(2)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got.Value, 1e-12)
	assert.InDelta(t, 3.5, got.Point["x"], 1e-12)

	// n larger than occupancy clamps to occupancy.
	got, err = l.average(100)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.Value, 1e-12)

	// n <= 0 uses 1: the most recent entry.
	got, err = l.average(0)
	require.NoError(t, err)
	assert.InDelta(t, 4, got.Value, 1e-12)

	got, err = l.average(-5)
	require.NoError(t, err)
	assert.InDelta(t, 4, got.Value, 1e-12)
}

func TestEvalLogWrapsAround(t *testing.T) {
	var l evalLog
	total := historyCapacity + 500
	for i := 1; i <= total; i++ {
		l.append(record(float64(i)))
	}
	assert.Equal(t, total, l.count)

	// Last 10 entries are total-9 .. total.
	got, err := l.average(10)
	require.NoError(t, err)
	assert.InDelta(t, float64(total)-4.5, got.Value, 1e-9)

	// A full window only sees the last historyCapacity entries.
	got, err = l.average(historyCapacity)
	require.NoError(t, err)
	want := float64(total) - float64(historyCapacity-1)/2
	assert.InDelta(t, want, got.Value, 1e-9)
}
