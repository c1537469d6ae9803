package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesPageAndStreamInfo(t *testing.T) {
	srv := NewServer([]byte("<html>pulse</html>"), StreamInfo{Port: 8765, Path: "/"}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<html>pulse</html>", string(body))
	}

	resp, err := http.Get(ts.URL + "/stream.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info StreamInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, StreamInfo{Port: 8765, Path: "/"}, info)

	resp404, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestServer_ListenServeShutdown(t *testing.T) {
	srv := NewServer(nil, StreamInfo{}, nil)
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	require.NotNil(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestPortOf(t *testing.T) {
	assert.Equal(t, 8765, PortOf(":8765"))
	assert.Equal(t, 80, PortOf("0.0.0.0:http"))
	assert.Equal(t, 0, PortOf("garbage"))
}
