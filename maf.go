package rccar

import (
	"fmt"
	"math"
)

// MAF is a moving average filter, for smoothing out score vectors from
// consecutive frames. Smoothing keeps the car from twitching between two
// directions when single frames disagree.
type MAF struct {
	index  int
	sums   []float64
	values [][]float64 // Ring of the last size score vectors.
}

// NewMAF returns a new moving average filter with a history of given size, for
// score vectors of length classes. Values are initialized to all zeroes.
func NewMAF(size, classes int) (*MAF, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	if classes <= 0 {
		return nil, fmt.Errorf("must have at least one class")
	}
	m := &MAF{
		sums:   make([]float64, classes),
		values: make([][]float64, size),
	}
	for i := range m.values {
		m.values[i] = make([]float64, classes)
	}
	return m, nil
}

// Update adds one score vector to the moving average filter and returns the
// smoothed scores based on the history.
// A vector of the wrong length or with a NaN or infinite score results in an
// error, and leaves the history untouched.
func (m *MAF) Update(scores []float64) ([]float64, error) {
	if m.values == nil {
		return nil, fmt.Errorf("invalid MAF, use NewMAF")
	}
	if len(scores) != len(m.sums) {
		return nil, fmt.Errorf("got %d scores, expected %d", len(scores), len(m.sums))
	}
	for i, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("score %d is %v", i, v)
		}
	}

	slot := m.values[m.index]
	r := make([]float64, len(scores))
	for i, v := range scores {
		m.sums[i] += v - slot[i]
		slot[i] = v
		r[i] = m.sums[i] / float64(len(m.values))
	}
	m.index++
	if m.index >= len(m.values) {
		m.index = 0
	}
	return r, nil
}
