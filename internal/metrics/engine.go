// Package metrics keeps a bounded rolling window of heart-rate samples and
// derives variability statistics from it.
package metrics

import "math"

// DefaultWindowSize is the default rolling window capacity.
const DefaultWindowSize = 120

// Derived holds the statistics computed from the current window.
type Derived struct {
	Std   float64 // population standard deviation of bpm
	RMSSD float64 // root mean square of successive inter-beat interval differences, ms
}

// Engine maintains the rolling window. It is not safe for concurrent use; the
// publish scheduler is its only caller.
type Engine struct {
	window *Window
}

// NewEngine creates an Engine with a window of the given capacity.
func NewEngine(capacity int) *Engine {
	return &Engine{window: NewWindow(capacity)}
}

// Observe records a bpm value.
func (e *Engine) Observe(bpm float64) {
	e.window.Add(bpm)
}

// Snapshot computes Derived from the values currently in the window.
func (e *Engine) Snapshot() Derived {
	values := e.window.Values()
	return Derived{
		Std:   StdDev(values),
		RMSSD: RMSSD(values),
	}
}

// Window exposes the underlying window for inspection.
func (e *Engine) Window() *Window {
	return e.window
}

// StdDev returns the population standard deviation of values, or 0 when empty.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// IntervalMs converts a bpm value to an inter-beat interval in milliseconds.
// Non-positive bpm yields 0.
func IntervalMs(bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	return 60000 / bpm
}

// RMSSD returns the root mean square of successive differences between the
// inter-beat intervals derived from values. Fewer than two values yield 0.
func RMSSD(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	prev := IntervalMs(values[0])
	for _, v := range values[1:] {
		cur := IntervalMs(v)
		d := cur - prev
		sum += d * d
		prev = cur
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
