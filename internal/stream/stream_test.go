package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/pulsebridge/internal/metrics"
	"github.com/srg/pulsebridge/internal/sample"
	"github.com/srg/pulsebridge/internal/sink"
	"github.com/srg/pulsebridge/internal/testutils"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []string
	pings  int
	fail   bool
	block  chan struct{} // when non-nil, Send waits on it
	closed bool
}

func (c *fakeConn) Send(data []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testTick(seq uint64) sink.Tick {
	return sink.Tick{
		Seq:     seq,
		At:      time.Unix(1700000000, 500_000_000),
		Sample:  sample.Sample{BPM: 72.5, SpO2: 97, RawIR: 101234, RawRed: 81234},
		Metrics: metrics.Derived{Std: 1.25, RMSSD: 33.5},
	}
}

func TestRecord_WireFormat(t *testing.T) {
	b, err := NewRecord(testTick(3)).Marshal()
	require.NoError(t, err)

	testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(string(b), `{
		"bpm": 72.5,
		"spo2": 97,
		"ir": 101234,
		"red": 81234,
		"timestamp": "<<PRESENCE>>",
		"hrstd": 1.25,
		"rmssd": 33.5,
		"seq": 3
	}`)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.InDelta(t, 1700000000.5, m["timestamp"], 1e-3)

	var r Record
	require.NoError(t, json.Unmarshal(b, &r))
	assert.WithinDuration(t, time.Unix(1700000000, 500_000_000), r.Time(), time.Millisecond)
}

func TestHub_FailingClientIsIsolated(t *testing.T) {
	hub := NewHub(0, nil)
	defer hub.CloseAll()

	c1, c2, c3 := &fakeConn{}, &fakeConn{fail: true}, &fakeConn{}
	for _, c := range []*fakeConn{c1, c2, c3} {
		_, err := hub.Join(c)
		require.NoError(t, err)
	}
	require.Equal(t, 3, hub.Len())

	s := NewSink(hub, nil)
	require.NoError(t, s.Publish(context.Background(), testTick(1)))

	require.Eventually(t, func() bool {
		return len(c1.received()) == 1 && len(c3.received()) == 1 && hub.Len() == 2
	}, time.Second, time.Millisecond)
	assert.True(t, c2.isClosed())
	assert.Empty(t, c2.received())

	require.NoError(t, s.Publish(context.Background(), testTick(2)))
	require.Eventually(t, func() bool {
		return len(c1.received()) == 2 && len(c3.received()) == 2
	}, time.Second, time.Millisecond)
}

func TestHub_SlowClientDoesNotDelayOthers(t *testing.T) {
	hub := NewHub(4, nil)
	defer hub.CloseAll()

	slow := &fakeConn{block: make(chan struct{})}
	fast := &fakeConn{}
	_, err := hub.Join(slow)
	require.NoError(t, err)
	_, err = hub.Join(fast)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.Equal(t, 2, hub.Broadcast([]byte{byte('a' + i)}))
		require.Eventually(t, func() bool { return len(fast.received()) == i+1 }, time.Second, time.Millisecond)
	}
	assert.Empty(t, slow.received())

	close(slow.block)
	require.Eventually(t, func() bool { return len(slow.received()) > 0 }, time.Second, time.Millisecond)
	got := slow.received()
	assert.Less(t, len(got), 20, "slow client mailbox is bounded")
	assert.Equal(t, "t", got[len(got)-1], "slow client still ends on the newest record")
}

func TestHub_LateJoinerGetsOnlyNewRecords(t *testing.T) {
	hub := NewHub(0, nil)
	defer hub.CloseAll()

	early := &fakeConn{}
	_, err := hub.Join(early)
	require.NoError(t, err)
	hub.Broadcast([]byte("1"))
	require.Eventually(t, func() bool { return len(early.received()) == 1 }, time.Second, time.Millisecond)

	late := &fakeConn{}
	_, err = hub.Join(late)
	require.NoError(t, err)
	hub.Broadcast([]byte("2"))

	require.Eventually(t, func() bool { return len(late.received()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"2"}, late.received())
}

func TestHub_PingAndCloseAll(t *testing.T) {
	hub := NewHub(0, nil)
	a, b := &fakeConn{}, &fakeConn{fail: true}
	ca, err := hub.Join(a)
	require.NoError(t, err)
	_, err = hub.Join(b)
	require.NoError(t, err)

	hub.Ping()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.pings == 1
	}, time.Second, time.Millisecond)

	s := NewSink(hub, nil)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, hub.Len())
	assert.True(t, a.isClosed())
	<-ca.Done()

	_, err = hub.Join(&fakeConn{})
	assert.ErrorIs(t, err, ErrClientClosed)

	hub.Leave("unknown")
}

func TestClientSet(t *testing.T) {
	set := NewClientSet()
	c := newClient(&fakeConn{}, 2)
	assert.True(t, set.Add(c))
	assert.False(t, set.Add(c))

	got, ok := set.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Len(t, set.Snapshot(), 1)

	assert.True(t, set.Remove(c.ID()))
	assert.False(t, set.Remove(c.ID()))
	assert.Equal(t, 0, set.Len())
}

func TestAllowedOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin header", "", "pi.local:8765", nil, true},
		{"same host", "http://pi.local:8888", "pi.local:8765", nil, true},
		{"cross host without list", "http://evil.example", "pi.local:8765", nil, false},
		{"wildcard all", "http://evil.example", "pi.local", []string{"*"}, true},
		{"exact match", "http://dash.example", "pi.local", []string{"http://dash.example"}, true},
		{"subdomain wildcard", "https://a.b.example", "pi.local", []string{"*.example"}, true},
		{"not listed", "https://other.org", "pi.local", []string{"*.example", " "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allowedOrigin(tt.origin, tt.host, tt.allowed))
		})
	}
}

func TestServer_EndToEnd(t *testing.T) {
	hub := NewHub(0, nil)
	srv := NewServer(hub, ServerOptions{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, time.Millisecond)

	s := NewSink(hub, nil)
	require.NoError(t, s.Publish(context.Background(), testTick(9)))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var r Record
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, uint64(9), r.Seq)
	assert.Equal(t, 97.0, r.SpO2)

	// consumer disconnects: the server notices and removes it
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_CloseSendsCloseFrame(t *testing.T) {
	hub := NewHub(0, nil)
	srv := NewServer(hub, ServerOptions{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, time.Millisecond)

	hub.CloseAll()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestServer_ListenFailureIsReported(t *testing.T) {
	first := NewServer(NewHub(0, nil), ServerOptions{})
	require.NoError(t, first.Listen("127.0.0.1:0"))
	addr := first.Addr().String()

	second := NewServer(NewHub(0, nil), ServerOptions{})
	err := second.Listen(addr)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}

	assert.Error(t, NewServer(NewHub(0, nil), ServerOptions{}).Serve(context.Background()))
}
