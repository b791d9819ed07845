package spsa

import (
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/TAIGA/internal/optimization"
	"github.com/copyleftdev/TAIGA/internal/optimization/params"
)

// historyCapacity is the fixed size of each circular evaluation log.
const historyCapacity = 1000

// ErrNoEvaluations is returned when an average is requested from an
// empty evaluation log. Querying before the first evaluation completed
// is a usage error.
var ErrNoEvaluations = optimization.NewError("no evaluations recorded").
	WithComponent("spsa").WithOperation("average")

// evalLog is a fixed-capacity circular log of objective evaluations.
// Once full, the oldest entry is overwritten.
type evalLog struct {
	records [historyCapacity]optimization.Record
	count   int
}

func (l *evalLog) append(r optimization.Record) {
	l.records[l.count%historyCapacity] = r
	l.count++
}

// average returns the mean record over the last min(n, occupancy,
// capacity) entries without touching the objective. n <= 0 is treated
// as 1. Fails on an empty log.
func (l *evalLog) average(n int) (optimization.Record, error) {
	if l.count == 0 {
		return optimization.Record{}, ErrNoEvaluations
	}
	if n <= 0 {
		n = 1
	}
	if n > historyCapacity {
		n = historyCapacity
	}
	if n > l.count {
		n = l.count
	}

	values := make([]float64, n)
	var point params.Vector
	for i := 0; i < n; i++ {
		j := ((l.count-1)%historyCapacity - i + historyCapacity) % historyCapacity
		values[i] = l.records[j].Value
		if point == nil {
			point = l.records[j].Point.Clone()
		} else {
			point = params.Sum(point, l.records[j].Point)
		}
	}

	return optimization.Record{
		Value: stat.Mean(values, nil),
		Point: params.Scale(1/float64(n), point),
	}, nil
}
