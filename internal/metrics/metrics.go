// Package metrics exposes the pipeline's standard text-exposition metrics
// over a small HTTP server that runs as a background task alongside the
// main loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry holds the five named series the pipeline reports.
type Registry struct {
	registry *prometheus.Registry

	InferenceDuration prometheus.Histogram
	Inferences        prometheus.Counter
	FPS               prometheus.Gauge
	FPSDeviation      prometheus.Gauge
	Size              prometheus.Gauge
}

// New registers the pipeline's metric series against a fresh registry.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_duration",
			Help:    "Duration of ML inference in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		Inferences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inferences",
			Help: "Number of ML inferences run",
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fps",
			Help: "Current observed pipeline tick frequency",
		}),
		FPSDeviation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fps_deviation",
			Help: "Difference between current fps and the configured target",
		}),
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "size",
			Help: "Declared shared-memory image size in bytes",
		}),
	}

	r.registry.MustRegister(r.InferenceDuration, r.Inferences, r.FPS, r.FPSDeviation, r.Size)
	return r
}

// ObserveTick records one pipeline tick's current frequency against the
// configured target fps.
func (r *Registry) ObserveTick(currentFPS, targetFPS float64) {
	r.FPS.Set(currentFPS)
	r.FPSDeviation.Set(currentFPS - targetFPS)
}

// Server serves the registry's metrics on /stats. It is intended to run on
// its own background goroutine for the pipeline's lifetime.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds a metrics HTTP server bound to addr (e.g. ":9090").
// Intentionally minimal: one handler, no middleware. It is a standard
// net/http server, so it accepts concurrent connections.
func NewServer(addr string, registry *Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/stats", promhttp.HandlerFor(registry.registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run starts serving and blocks until the context is cancelled, at which
// point it shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr reports the address the server was configured with in NewServer.
// With port 0 it returns that configured value, not the port actually bound.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
