package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/SmartStepper/internal/config"
	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for the resolved config and motor session.
func NewServer(cfg *config.Config, session *motion.Session, broadcaster *StatusBroadcaster) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: static fs: %w", err)
	}
	return &Server{
		addr:     cfg.Addr(),
		handlers: NewHandlers(session, cfg, broadcaster, subFS),
	}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/layout", s.handlers.HandleLayout)
	mux.HandleFunc("POST /api/init", s.handlers.HandleInit)
	mux.HandleFunc("POST /api/control", s.handlers.HandleControl)
	mux.HandleFunc("GET /api/status", s.handlers.HandleStatus)
	mux.HandleFunc("POST /api/stop", s.handlers.HandleStop)
	mux.HandleFunc("GET /api/events", s.handlers.HandleStatusStream)
	mux.HandleFunc("OPTIONS /api/", s.handlers.HandlePreflight)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return withCORS(mux)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Long-lived requests (SSE streams) see their context cancelled as soon as
// shutdown starts so they do not hold it up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	srv := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		debug.Info("web server shutting down")
		stopStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
