package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/toheedhamid/chat-application/observability"
)

// ChatMemoryPath is the route the chat memory endpoint is mounted on.
const ChatMemoryPath = "/api/chat-memory"

const (
	defaultListenAddr      = ":8080"
	defaultShutdownTimeout = 5 * time.Second
)

// Server exposes a Handler over HTTP together with a health endpoint.
type Server struct {
	address         string
	handler         http.Handler
	health          ConnectionSource
	logger          observability.Logger
	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListenAddr sets the listen address.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthSource makes /healthz ping a connection from source.
func WithHealthSource(source ConnectionSource) ServerOption {
	return func(s *Server) {
		s.health = source
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// NewServer creates a server for handler.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		address:         defaultListenAddr,
		handler:         handler,
		logger:          observability.NewNullLogger(),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the server's mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(ChatMemoryPath, s.handler)
	mux.Handle("/", s.handler)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	conn, err := s.health.Acquire(ctx)
	if err == nil {
		err = conn.Ping(ctx)
	}
	if err != nil {
		s.logger.WithContext(ctx).WithErr(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "Server.Run")
	defer span.End()

	server := &http.Server{
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		Addr:              s.address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(map[string]interface{}{"address": s.address}).Info("Starting chat memory server")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		observability.RecordError(span, err)
		s.logger.WithErr(err).Error("Error starting server")
		return fmt.Errorf("failed to serve on %s: %w", s.address, err)
	case <-ctx.Done():
		s.logger.Info("Shutting down chat memory server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.RecordError(span, err)
		s.logger.WithErr(err).Error("Server shutdown error")
		return err
	}

	s.logger.Info("Server shutdown complete")
	return nil
}
