package metrics

// Window is a fixed-capacity FIFO of bpm values. Once full, each Add evicts the
// oldest value. Values are kept in insertion order.
type Window struct {
	data  []float64
	pos   int // next write position
	count int
}

// NewWindow creates a Window holding at most capacity values.
// A non-positive capacity is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{data: make([]float64, capacity)}
}

// Add appends v, evicting the oldest value when the window is full.
func (w *Window) Add(v float64) {
	w.data[w.pos] = v
	w.pos = (w.pos + 1) % len(w.data)
	if w.count < len(w.data) {
		w.count++
	}
}

// Len returns the number of values currently held.
func (w *Window) Len() int {
	return w.count
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.data)
}

// Values returns a copy of the held values, oldest first.
func (w *Window) Values() []float64 {
	if w.count == 0 {
		return nil
	}
	out := make([]float64, w.count)
	if w.count < len(w.data) {
		copy(out, w.data[:w.count])
		return out
	}
	// full: oldest value sits at pos
	n := copy(out, w.data[w.pos:])
	copy(out[n:], w.data[:w.pos])
	return out
}

// Reset drops all values.
func (w *Window) Reset() {
	w.pos = 0
	w.count = 0
}
