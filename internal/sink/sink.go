// Package sink defines the dissemination boundary: every transport that
// receives the periodic readings implements Sink.
package sink

import (
	"context"
	"time"

	"github.com/srg/pulsebridge/internal/metrics"
	"github.com/srg/pulsebridge/internal/sample"
)

// Tick is one publish cycle: the latest sample together with the statistics
// computed after observing it.
type Tick struct {
	Seq     uint64
	At      time.Time
	Sample  sample.Sample
	Metrics metrics.Derived
}

// Sink receives ticks. Publish must not retain the Tick beyond the call unless
// it copies it. Close releases transport resources; it is called once, after
// the last Publish.
type Sink interface {
	Name() string
	Publish(ctx context.Context, t Tick) error
	Close(ctx context.Context) error
}

// Func adapts a plain function into a Sink with a no-op Close.
type Func struct {
	SinkName string
	Fn       func(ctx context.Context, t Tick) error
}

func (f Func) Name() string { return f.SinkName }

func (f Func) Publish(ctx context.Context, t Tick) error { return f.Fn(ctx, t) }

func (f Func) Close(context.Context) error { return nil }
