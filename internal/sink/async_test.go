package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	seqs   []uint64
	gate   chan struct{} // when non-nil, Publish waits on it
	err    error
	closed bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(ctx context.Context, t Tick) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, t.Seq)
	return r.err
}

func (r *recordingSink) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) snapshot() ([]uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...), r.closed
}

func TestAsync_DeliversAndCloses(t *testing.T) {
	rec := &recordingSink{}
	a := NewAsync(rec, nil)
	assert.Equal(t, "recording", a.Name())

	require.NoError(t, a.Publish(context.Background(), Tick{Seq: 1}))
	require.Eventually(t, func() bool {
		seqs, _ := rec.snapshot()
		return len(seqs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Close(context.Background()))
	seqs, closed := rec.snapshot()
	assert.Equal(t, []uint64{1}, seqs)
	assert.True(t, closed)
	assert.Equal(t, int64(1), a.Stats().Published)

	err := a.Publish(context.Background(), Tick{Seq: 2})
	assert.Error(t, err)
}

func TestAsync_SlowSinkNeverBlocksPublisher(t *testing.T) {
	rec := &recordingSink{gate: make(chan struct{})}
	a := NewAsync(rec, nil)

	// first tick is picked up by the worker and parks on the gate
	require.NoError(t, a.Publish(context.Background(), Tick{Seq: 1}))
	require.Eventually(t, func() bool { return a.box.Len() == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	for seq := uint64(2); seq <= 50; seq++ {
		require.NoError(t, a.Publish(context.Background(), Tick{Seq: seq}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(rec.gate)
	require.NoError(t, a.Close(context.Background()))

	seqs, _ := rec.snapshot()
	assert.Equal(t, []uint64{1, 50}, seqs, "only the newest pending tick survives")
	assert.Equal(t, int64(48), a.Stats().Dropped)
}

func TestAsync_ErrorsAreCountedNotFatal(t *testing.T) {
	rec := &recordingSink{err: errors.New("boom")}
	a := NewAsync(rec, nil)

	require.NoError(t, a.Publish(context.Background(), Tick{Seq: 1}))
	require.Eventually(t, func() bool { return a.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Publish(context.Background(), Tick{Seq: 2}))
	require.Eventually(t, func() bool { return a.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Close(context.Background()))
}

func TestAsync_CloseRespectsDeadline(t *testing.T) {
	rec := &recordingSink{gate: make(chan struct{})}
	a := NewAsync(rec, nil)
	require.NoError(t, a.Publish(context.Background(), Tick{Seq: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = a.Close(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not honour its context")
	}
	_, closed := rec.snapshot()
	assert.True(t, closed)
}

func TestFunc(t *testing.T) {
	var got Tick
	f := Func{SinkName: "fn", Fn: func(_ context.Context, t Tick) error {
		got = t
		return nil
	}}

	require.NoError(t, f.Publish(context.Background(), Tick{Seq: 7}))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, "fn", f.Name())
	assert.NoError(t, f.Close(context.Background()))
}
