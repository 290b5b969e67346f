package strategy

import (
	"fmt"
	"math"

	"statarb/internal/domain"
)

// ZScore standardizes x. A zero or invalid deviation yields 0.
func ZScore(x, mean, std float64) float64 {
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (x - mean) / std
}

// LogSpread is ln(p1) - h*ln(p2).
func LogSpread(p1, p2, hedge float64) float64 {
	return math.Log(p1) - hedge*math.Log(p2)
}

// PriceSpread is p1 - h*p2.
func PriceSpread(p1, p2, hedge float64) float64 {
	return p1 - hedge*p2
}

// FittedModel scores the log spread against an offline-fitted mean and
// standard deviation.
type FittedModel struct {
	Hedge  float64
	Mean   float64
	StdDev float64
}

// ZScore implements SpreadModel.
func (m FittedModel) ZScore(p1, p2 float64) (float64, error) {
	if p1 <= 0 || p2 <= 0 {
		return 0, domain.ErrNotReady
	}
	return ZScore(LogSpread(p1, p2, m.Hedge), m.Mean, m.StdDev), nil
}

// RollingModel scores the raw price spread against a trailing window.
// Ring buffer: fixed allocation, no per-tick garbage.
type RollingModel struct {
	hedge      float64
	minSamples int

	spreads []float64
	head    int // next write position
	count   int
	sum     float64
}

// NewRollingModel creates a model over the last window spreads that is not
// ready until minSamples have been seen.
func NewRollingModel(hedge float64, window, minSamples int) *RollingModel {
	if window < 1 {
		panic(fmt.Sprintf("RollingModel: window must be positive, got %d", window))
	}
	return &RollingModel{
		hedge:      hedge,
		minSamples: minSamples,
		spreads:    make([]float64, window),
	}
}

// ZScore records the current spread, then scores it against the window
// including itself.
func (m *RollingModel) ZScore(p1, p2 float64) (float64, error) {
	spread := PriceSpread(p1, p2, m.hedge)
	m.push(spread)

	if m.count < m.minSamples {
		return 0, domain.ErrNotReady
	}
	mean, std := m.Stats()
	return ZScore(spread, mean, std), nil
}

func (m *RollingModel) push(v float64) {
	size := len(m.spreads)
	if m.count == size {
		m.sum -= m.spreads[m.head] // head points to the oldest value when full
	}
	m.spreads[m.head] = v
	m.sum += v
	m.head = (m.head + 1) % size
	if m.count < size {
		m.count++
	}
}

// Stats returns the window mean and population standard deviation.
func (m *RollingModel) Stats() (mean, std float64) {
	if m.count == 0 {
		return 0, 0
	}
	n := float64(m.count)
	mean = m.sum / n

	var sq float64
	idx := m.head
	for i := 0; i < m.count; i++ {
		idx--
		if idx < 0 {
			idx = len(m.spreads) - 1
		}
		d := m.spreads[idx] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// Len returns the number of spreads currently in the window.
func (m *RollingModel) Len() int {
	return m.count
}
