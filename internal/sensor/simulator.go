package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	BaseBPM  float64       // resting heart rate the simulation oscillates around
	BaseSpO2 float64       // oxygen saturation the simulation oscillates around
	Interval time.Duration // how often a new reading is produced
	WarmUp   time.Duration // no valid reading is produced before this elapses
	Seed     int64
}

// Simulator is a Driver producing plausible synthetic readings. It is used
// when no sensor is attached and in tests.
type Simulator struct {
	opts SimulatorOptions

	mu      sync.RWMutex
	current Reading

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSimulator creates a Simulator. Zero options get resting-adult defaults.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.BaseBPM <= 0 {
		opts.BaseBPM = 72
	}
	if opts.BaseSpO2 <= 0 {
		opts.BaseSpO2 = 97.5
	}
	if opts.Interval <= 0 {
		opts.Interval = 40 * time.Millisecond
	}
	return &Simulator{opts: opts, stop: make(chan struct{})}
}

func (s *Simulator) Current() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Simulator) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Start produces readings until ctx is cancelled or Stop is called.
func (s *Simulator) Start(ctx context.Context) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}

	rng := rand.New(rand.NewSource(s.opts.Seed))
	started := time.Now()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(started)
			r := Reading{
				IR:  100000 + rng.Intn(2000),
				Red: 80000 + rng.Intn(1600),
				At:  now,
			}
			if elapsed >= s.opts.WarmUp {
				// slow respiratory-like swing plus beat-to-beat jitter
				phase := 2 * math.Pi * elapsed.Seconds() / 12
				r.BPM = s.opts.BaseBPM + 4*math.Sin(phase) + rng.NormFloat64()
				r.SpO2 = math.Min(100, s.opts.BaseSpO2+0.5*math.Sin(phase/2)+0.2*rng.NormFloat64())
			}
			s.mu.Lock()
			s.current = r
			s.mu.Unlock()
		}
	}
}
