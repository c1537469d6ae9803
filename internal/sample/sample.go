// Package sample holds the sensor sample type and the single-writer handoff
// that moves samples from the acquisition goroutine to the publish scheduler.
package sample

import (
	"sync/atomic"
	"time"
)

// Sample is one decoded sensor readout. It is immutable once created: every
// poll produces a new Sample that supersedes the previous one.
type Sample struct {
	BPM       float64   // beats per minute, >= 0
	SpO2      float64   // oxygen saturation percentage in [0, 100]
	RawIR     int       // raw infrared ADC count
	RawRed    int       // raw red ADC count
	Timestamp time.Time // monotonic capture instant; zero until the first poll
}

// IsZero reports whether s is the zero-value Sample.
func (s Sample) IsZero() bool {
	return s == Sample{}
}

// Bridge publishes the latest Sample from the producer to the scheduler.
//
// Put stores a private copy behind an atomic pointer, so Latest never sees a
// partially written struct and never waits for a writer. Only the newest value
// is kept.
type Bridge struct {
	latest atomic.Pointer[Sample]
	puts   atomic.Uint64
}

// NewBridge returns an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Put publishes s, replacing any previous value.
func (b *Bridge) Put(s Sample) {
	cp := s
	b.latest.Store(&cp)
	b.puts.Add(1)
}

// Latest returns the most recent Sample, or the zero Sample if Put was never called.
func (b *Bridge) Latest() Sample {
	if p := b.latest.Load(); p != nil {
		return *p
	}
	return Sample{}
}

// Puts returns how many samples have been published so far.
func (b *Bridge) Puts() uint64 {
	return b.puts.Load()
}
