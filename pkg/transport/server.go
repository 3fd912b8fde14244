package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// Server runs an HTTP handler until its context ends, then shuts down
// gracefully.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	// OnShutdown runs after the listener stopped accepting requests, e.g. to
	// drain an agent's running tasks.
	OnShutdown func(ctx context.Context) error
}

// NewServer binds addr. Binding happens here so a port conflict is reported
// before anything else starts.
func NewServer(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.Addr())
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "address", s.Addr())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()

	// Streams stay open until their tasks end, so the tasks are drained
	// alongside the listener shutdown rather than after it.
	var hookErr error
	hookDone := make(chan struct{})
	go func() {
		defer close(hookDone)
		if s.OnShutdown != nil {
			hookErr = s.OnShutdown(shutdownCtx)
		}
	}()
	err := s.httpServer.Shutdown(shutdownCtx)
	<-hookDone
	return errors.Join(err, hookErr)
}

// ListenAndServe binds addr and serves handler until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	s, err := NewServer(addr, handler)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
