package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server is the operational HTTP surface: health, metrics, and the live
// alert feed. It binds an internal port and is not meant to face the
// public internet.
type Server struct {
	httpServer *http.Server
	hub        *AlertHub
}

// NewServer wires the ops endpoints onto a fresh mux. controls may be nil
// to leave the pause/mute surface unmounted.
func NewServer(listen string, monitor *HealthMonitor, metrics *Metrics, hub *AlertHub,
	controls OperationalControls) *Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/ws/alerts", hub)
	if controls != nil {
		NewControlHandler(controls).Register(mux)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		hub: hub,
	}
}

// Start serves until Shutdown. It blocks, so run it in its own goroutine.
func (s *Server) Start() error {
	log.Info().Str("listen", s.httpServer.Addr).Msg("ops: server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the alert feed and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
