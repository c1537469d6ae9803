// Package web serves the browser dashboard that renders the live stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
)

const DefaultListen = ":8888"

// StreamInfo tells the page where the WebSocket stream lives. The page
// connects to the same host it was loaded from.
type StreamInfo struct {
	Port int    `json:"ws_port"`
	Path string `json:"ws_path"`
}

// Server serves the dashboard page and its stream settings.
type Server struct {
	page   []byte
	info   StreamInfo
	logger *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

func NewServer(page []byte, info StreamInfo, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{page: page, info: info, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.info)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(s.page)
	})
	return mux
}

// Listen binds addr; errors are returned immediately.
func (s *Server) Listen(addr string) error {
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

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, srv := s.listener, s.httpSrv
	s.mu.Unlock()
	if ln == nil {
		return errors.New("web server: Serve called before Listen")
	}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "web-http", func(context.Context) {
		errCh <- srv.Serve(ln)
	})
	s.logger.WithField("addr", ln.Addr().String()).Info("Dashboard listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// PortOf extracts the numeric port from a listen address such as ":8765".
func PortOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0
	}
	return p
}
