package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
	"github.com/srg/pulsebridge/internal/ringchan"
)

// AsyncStats counts what happened to ticks handed to an Async sink.
type AsyncStats struct {
	Published int64 // delivered to the wrapped sink without error
	Failed    int64 // wrapped sink returned an error
	Dropped   int64 // superseded by a newer tick before delivery
}

// Async decouples a Sink from the caller. Publish never blocks: the tick is
// placed in a single-slot mailbox and delivered by a dedicated worker. If the
// worker is still busy when the next tick arrives, the pending one is replaced.
type Async struct {
	inner  Sink
	logger *logrus.Logger
	box    *ringchan.Ring[Tick]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	published atomic.Int64
	failed    atomic.Int64
}

// NewAsync wraps inner and starts its delivery worker.
func NewAsync(inner Sink, logger *logrus.Logger) *Async {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		inner:  inner,
		logger: logger,
		box:    ringchan.New[Tick](1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	groutine.Go(ctx, "sink-"+inner.Name(), a.run)
	return a
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)
	for {
		t, ok := a.box.Receive()
		if !ok {
			return
		}
		if err := a.inner.Publish(ctx, t); err != nil {
			a.failed.Add(1)
			a.logger.WithError(err).
				WithFields(logrus.Fields{"sink": a.inner.Name(), "seq": t.Seq}).
				Warn("Sink publish failed")
			continue
		}
		a.published.Add(1)
	}
}

// Name returns the wrapped sink's name.
func (a *Async) Name() string {
	return a.inner.Name()
}

// Publish hands t to the worker without waiting for delivery.
func (a *Async) Publish(_ context.Context, t Tick) error {
	if _, err := a.box.Offer(t); err != nil {
		return fmt.Errorf("sink %s: %w", a.inner.Name(), err)
	}
	return nil
}

// Close stops accepting ticks, lets the worker deliver the pending one, then
// closes the wrapped sink. If ctx expires first, in-flight delivery is cancelled.
func (a *Async) Close(ctx context.Context) error {
	var err error
	a.once.Do(func() {
		a.box.Close()

		select {
		case <-a.done:
		case <-ctx.Done():
			a.cancel()
			<-a.done
		}
		a.cancel()

		err = a.inner.Close(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close sink %s: %w", a.inner.Name(), err)
	}
	return nil
}

// Stats returns delivery counters.
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Published: a.published.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.box.Stats().Dropped,
	}
}
