// Package server exposes a node's HTTP surface: the replica routes its
// peers sync and replicate against, and the admin routes operators drive
// the coordinator through.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"vex/config"
	"vex/pkg/coordinator"
	"vex/storage"
)

// Server hosts the replica and admin HTTP APIs for one node.
type Server struct {
	cfg   *config.Config
	coord *coordinator.Coordinator
	store storage.VectorStore
	log   *slog.Logger
	http  *http.Server
}

// NewServer wires the HTTP surface around a coordinator and its store.
func NewServer(cfg *config.Config, coord *coordinator.Coordinator, store storage.VectorStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		coord: coord,
		store: store,
		log:   log.With("component", "server"),
	}

	mux := http.NewServeMux()
	s.registerReplicaRoutes(mux)
	s.registerAdminRoutes(mux)

	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      s.withRequestID(mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	return s
}

// Handler returns the full HTTP handler, for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// withRequestID tags every request with an id for log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}
