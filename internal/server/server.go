// Package server is the HTTP surface of the poll daemon: liveness and
// Prometheus metrics.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves health and metrics.
type HTTPServer struct {
	server *http.Server
}

func New(addr string, registry *prometheus.Registry) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{Addr: addr, Handler: Handler(registry)},
	}
}

func (s *HTTPServer) ListenAndServe() error {
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler builds the daemon mux. Split out so tests can drive it
// without a listener.
func Handler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
