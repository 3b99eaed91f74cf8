// Package adminserver exposes the gateway's operational surface: health,
// Prometheus metrics, and a small JSON status endpoint (spec.md §4, ambient
// stack section).
package adminserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider reports a point-in-time view of the gateway's trackers.
// Implemented by the wiring in cmd/bifrost so this package stays decoupled
// from the tracker types.
type StatusProvider interface {
	Status() map[string]interface{}
}

// Server is the gateway's admin HTTP surface.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// New builds an admin server bound to addr, serving /healthz, /metrics, and
// /status.
func New(addr string, reg *prometheus.Registry, status StatusProvider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", handleStatus(status)).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleStatus(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status.Status())
	}
}
