package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current start-up phase with elapsed time
// until one of its stop phases is reached.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, "Starting bridge", "Initializing", "Running")
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	startTime  time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	stopped  bool
}

// NewProgressPrinter creates a printer writing to out. stopPhases are phase
// names that end the display when passed to Callback.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{out: out, prefix: prefix, stopPhases: stopSet}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates. Panics if called twice.
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopChan != nil || p.stopped {
		panic("ProgressPrinter.Start called more than once")
	}
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.startTime = time.Now()

	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.Phase())
	go p.loop(p.stopChan, p.done)
}

func (p *ProgressPrinter) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			seconds := int(time.Since(p.startTime).Seconds())
			if seconds > 0 {
				fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.Phase(), seconds)
			} else {
				fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.Phase())
			}
		}
	}
}

// Phase returns the current phase name.
func (p *ProgressPrinter) Phase() string {
	return p.phase.Load().(string)
}

// Callback returns a progress callback that updates the phase and stops the
// printer on a stop phase. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	if p.stopped || p.stopChan == nil {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
	fmt.Fprint(p.out, clearLineSequence)
}
