package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/pulsebridge/internal/metrics"
	"github.com/srg/pulsebridge/internal/sample"
	"github.com/srg/pulsebridge/internal/sink"
)

type mockSink struct {
	mock.Mock
	mu    sync.Mutex
	ticks []sink.Tick
}

func (m *mockSink) Name() string {
	return m.Called().String(0)
}

func (m *mockSink) Publish(ctx context.Context, t sink.Tick) error {
	m.mu.Lock()
	m.ticks = append(m.ticks, t)
	m.mu.Unlock()
	return m.Called(ctx, t).Error(0)
}

func (m *mockSink) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSink) received() []sink.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sink.Tick(nil), m.ticks...)
}

type SchedulerTestSuite struct {
	suite.Suite
	bridge *sample.Bridge
	engine *metrics.Engine
	a, b   *mockSink
	sched  *Scheduler
	now    time.Time
}

func (s *SchedulerTestSuite) SetupTest() {
	s.bridge = sample.NewBridge()
	s.engine = metrics.NewEngine(4)
	s.a = &mockSink{}
	s.b = &mockSink{}
	s.a.On("Name").Return("a").Maybe()
	s.b.On("Name").Return("b").Maybe()
	s.now = time.Unix(1700000000, 0)

	sched, err := New(Options{
		Interval: 10 * time.Millisecond,
		Bridge:   s.bridge,
		Engine:   s.engine,
		Sinks:    []sink.Sink{s.a, s.b},
		Now:      func() time.Time { return s.now },
	})
	s.Require().NoError(err)
	s.sched = sched
}

func (s *SchedulerTestSuite) TestTickBeforeAnySample() {
	s.a.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	s.b.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	got := s.sched.Tick(context.Background())

	s.Equal(uint64(1), got.Seq)
	s.Equal(0.0, got.Sample.BPM)
	s.Equal(0.0, got.Sample.SpO2)
	s.Equal(metrics.Derived{}, got.Metrics)
	s.Equal(s.now, got.At)
	s.a.AssertExpectations(s.T())
	s.b.AssertExpectations(s.T())
}

func (s *SchedulerTestSuite) TestTickDerivesMetricsFromLatest() {
	s.a.On("Publish", mock.Anything, mock.Anything).Return(nil)
	s.b.On("Publish", mock.Anything, mock.Anything).Return(nil)

	s.bridge.Put(sample.Sample{BPM: 60, SpO2: 97})
	s.sched.Tick(context.Background())
	s.bridge.Put(sample.Sample{BPM: 120, SpO2: 98})
	got := s.sched.Tick(context.Background())

	s.Equal(uint64(2), got.Seq)
	s.Equal(120.0, got.Sample.BPM)
	s.InDelta(30.0, got.Metrics.Std, 1e-9)
	s.InDelta(500.0, got.Metrics.RMSSD, 1e-9)

	// both sinks see the identical tick
	s.Equal(s.a.received(), s.b.received())
}

func (s *SchedulerTestSuite) TestFailingSinkDoesNotStopOthers() {
	s.a.On("Publish", mock.Anything, mock.Anything).Return(errors.New("unreachable"))
	s.b.On("Publish", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 3; i++ {
		s.sched.Tick(context.Background())
	}

	s.Len(s.b.received(), 3)
	s.Equal(int64(3), s.sched.Errors())
}

func (s *SchedulerTestSuite) TestRunClosesSinksOnCancel() {
	s.a.On("Publish", mock.Anything, mock.Anything).Return(nil)
	s.b.On("Publish", mock.Anything, mock.Anything).Return(nil)
	s.a.On("Close", mock.Anything).Return(nil).Once()
	s.b.On("Close", mock.Anything).Return(errors.New("already gone")).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.sched.Run(ctx) }()

	s.Eventually(func() bool { return len(s.b.received()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("Run did not return after cancel")
	}
	s.a.AssertCalled(s.T(), "Close", mock.Anything)
	s.b.AssertCalled(s.T(), "Close", mock.Anything)

	// ticks are strictly sequential
	ticks := s.a.received()
	for i, tk := range ticks {
		s.Equal(uint64(i+1), tk.Seq)
	}
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func TestNew_RequiresBridge(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Options{Bridge: sample.NewBridge()})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.opts.Interval)
	assert.Equal(t, DefaultCloseTimeout, s.opts.CloseTimeout)
	assert.NotNil(t, s.opts.Engine)
	assert.Equal(t, metrics.DefaultWindowSize, s.opts.Engine.Window().Cap())
}
