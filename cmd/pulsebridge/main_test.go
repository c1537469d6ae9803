package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/srg/pulsebridge/bridge"
	"github.com/srg/pulsebridge/internal/sensor"
	"github.com/srg/pulsebridge/internal/stream"
	"github.com/srg/pulsebridge/internal/testutils"
	"github.com/srg/pulsebridge/pkg/config"
)

// executeCommand runs a fresh command tree with args and returns the
// combined output.
func executeCommand(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestConfigCommand_AppliesFlags(t *testing.T) {
	out, err := executeCommand(context.Background(),
		"config", "--sinks", "ws, tty,ws", "--sensor", "simulated", "--web", "", "--interval", "500ms", "--log-level", "debug")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, []string{"ws", "tty"}, cfg.Sinks)
	assert.Equal(t, config.DriverSimulated, cfg.Sensor.Driver)
	assert.Empty(t, cfg.Web.Listen)
	assert.Equal(t, 500*time.Millisecond, cfg.Publish.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":8765", cfg.Stream.Listen)
}

func TestConfigCommand_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsebridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sinks: [mqtt]\nmqtt:\n  broker: tcp://10.0.0.2:1883\n"), 0o600))

	out, err := executeCommand(context.Background(), "config", "--config", path, "--mqtt-broker", "tcp://10.0.0.3:1883")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, []string{"mqtt"}, cfg.Sinks)
	assert.Equal(t, "tcp://10.0.0.3:1883", cfg.MQTT.Broker)
}

func TestConfigCommand_RejectsInvalid(t *testing.T) {
	_, err := executeCommand(context.Background(), "config", "--sinks", "ws,fax")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sink "fax"`)

	_, err = executeCommand(context.Background(), "config", "--sinks", "mqtt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker")
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		flag       string
		configured string
		want       logrus.Level
		wantErr    bool
	}{
		{"", "", logrus.InfoLevel, false},
		{"", "warn", logrus.WarnLevel, false},
		{"debug", "warn", logrus.DebugLevel, false},
		{"error", "", logrus.ErrorLevel, false},
		{"loud", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.flag, tt.configured), func(t *testing.T) {
			cmd := newServeCmd()
			cmd.Flags().String("log-level", "", "")
			if tt.flag != "" {
				require.NoError(t, cmd.Flags().Set("log-level", tt.flag))
			}
			logger, err := configureLogger(cmd, &config.Config{LogLevel: tt.configured}, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain", errors.New("boom"), "boom"},
		{
			"init error",
			&bridge.InitError{Component: "mqtt", Err: errors.New("connection refused")},
			"failed to start mqtt: connection refused",
		},
		{
			"address in use",
			&bridge.InitError{Component: "ws", Err: fmt.Errorf("listen tcp :8765: %w", syscall.EADDRINUSE)},
			"failed to start ws: listen tcp :8765: address already in use (is another bridge already running? change the listen address with --listen or --web)",
		},
		{
			"unsupported sensor",
			&bridge.InitError{Component: "sensor", Err: fmt.Errorf("sensor acquisition: %w", sensor.ErrUnsupported)},
			"failed to start sensor: sensor acquisition: sensor: not supported on this platform (use --sensor simulated on this platform)",
		},
		{
			"missing i2c device",
			&bridge.InitError{Component: "sensor", Err: fmt.Errorf("open /dev/i2c-1: %w", syscall.ENOENT)},
			"failed to start sensor: open /dev/i2c-1: no such file or directory (is I2C enabled? check sensor.device)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
	assert.Empty(t, FormatUserError(nil))
}

func TestProgressPrinter_StopsOnStopPhase(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "Starting bridge", "Initializing", "Running")
	p.Start()

	cb := p.Callback()
	cb("Starting ws")
	assert.Equal(t, "Starting ws", p.Phase())
	cb("Running")

	// stopped: further stops are no-ops and the line was cleared
	p.Stop()
	assert.True(t, strings.HasPrefix(buf.String(), "\rStarting bridge (Initializing...)"))
	assert.True(t, strings.HasSuffix(buf.String(), clearLineSequence))
	assert.Panics(t, p.Start)
}

// recordServer upgrades every request and sends records, then a close frame.
func recordServer(t *testing.T, records ...stream.Record) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, rec := range records {
			data, _ := rec.Marshal()
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = ws.ReadMessage()
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func TestWatchCommand_PrintsRecords(t *testing.T) {
	at := float64(time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local).Unix())
	srv := recordServer(t,
		stream.Record{BPM: 72.5, SpO2: 97, HRStd: 1.25, RMSSD: 33.5, Seq: 1, Timestamp: at},
		stream.Record{Seq: 2, Timestamp: at + 1},
	)
	defer srv.Close()

	out, err := executeCommand(context.Background(), "watch", wsURL(srv), "--no-color", "--count", "2")
	require.NoError(t, err)

	testutils.NewTextAsserter(t).Assert(out, `
10:00:00 #1 BPM 72.5 SpO2 97.0 HRSTD 1.25 RMSSD 33.50
10:00:01 #2 no finger
`)
}

func TestWatchCommand_RawJSON(t *testing.T) {
	srv := recordServer(t, stream.Record{BPM: 60, SpO2: 98, Seq: 7, Timestamp: 1700000000})
	defer srv.Close()

	out, err := executeCommand(context.Background(), "watch", wsURL(srv), "--json", "--count", "1")
	require.NoError(t, err)
	testutils.NewJSONAsserter(t).Assert(out, `{"bpm": 60, "spo2": 98, "seq": 7, "timestamp": 1700000000}`)
}

func TestWatchCommand_ServerClose(t *testing.T) {
	srv := recordServer(t, stream.Record{Seq: 1})
	defer srv.Close()

	_, err := executeCommand(context.Background(), "watch", wsURL(srv), "--no-color")
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestWatchCommand_InvalidURL(t *testing.T) {
	_, err := executeCommand(context.Background(), "watch", "http://localhost:8765/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be ws:// or wss://")
}

func TestServeCommand_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := executeCommand(ctx, "serve",
		"--sensor", "simulated",
		"--sinks", "ws",
		"--listen", "127.0.0.1:0",
		"--web", "",
		"--interval", "20ms",
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Bridge running with sinks: ws")
	assert.Contains(t, out, "WebSocket: ws://127.0.0.1:")
	assert.NotContains(t, out, "Dashboard:")
}
