package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
)

const (
	DefaultListen       = ":8765"
	DefaultPath         = "/"
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// consumers never send anything meaningful; reads only detect disconnects
	readLimit = 4096
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Path           string
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *logrus.Logger
}

// Server accepts WebSocket consumers and registers them with a Hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

func NewServer(hub *Hub, opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{hub: hub, opts: opts, logger: logger}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowedOrigin(r.Header.Get("Origin"), r.Host, s.opts.AllowedOrigins)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleStream)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(readLimit)

	c, err := s.hub.Join(&wsConn{conn: ws, writeTimeout: s.opts.WriteTimeout})
	if err != nil {
		return
	}

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Leave(c.ID())
}

// Listen binds addr. Bind failures are returned immediately so callers can
// treat them as fatal.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = DefaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on the bound listener and pings clients every
// PingInterval until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, srv := s.listener, s.httpSrv
	s.mu.Unlock()
	if ln == nil {
		return errors.New("stream server: Serve called before Listen")
	}

	groutine.Go(ctx, "stream-ping", func(ctx context.Context) {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.hub.Ping()
			}
		}
	})

	errCh := make(chan error, 1)
	groutine.Go(ctx, "stream-http", func(context.Context) {
		errCh <- srv.Serve(ln)
	})

	s.logger.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
		"path": s.opts.Path,
	}).Info("WebSocket stream listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stream server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		// hijacked WebSocket connections are not tracked by Shutdown; the hub closes them
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal-closure frame, best effort, then closes the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}

// allowedOrigin accepts requests without an Origin header, same-host origins
// when no allow-list is configured, and otherwise entries that are "*", an
// exact origin, or a "*.domain" wildcard.
func allowedOrigin(origin, host string, allowed []string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := u.Hostname()

	if len(allowed) == 0 {
		return strings.EqualFold(originHost, stripPort(host))
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return true
		case strings.EqualFold(a, origin):
			return true
		case strings.HasPrefix(a, "*."):
			suffix := strings.TrimPrefix(a, "*.")
			if strings.EqualFold(originHost, suffix) || strings.HasSuffix(strings.ToLower(originHost), "."+strings.ToLower(suffix)) {
				return true
			}
		}
	}
	return false
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
