package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aatumaykin/nexcron/internal/config"
)

// HealthChecker reports scheduler liveness.
type HealthChecker interface {
	IsRunning() bool
	Err() error
}

func newMetricsRegistry(cfg *config.Config) *prometheus.Registry {
	if !cfg.Metrics.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// metricsRegisterer returns nil, not a typed nil, when metrics are off.
func (a *App) metricsRegisterer() prometheus.Registerer {
	if a.metricsRegistry == nil {
		return nil
	}
	return a.metricsRegistry
}

func newMetricsServer(addr string, reg *prometheus.Registry, health HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/healthz", healthHandler(health))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(h HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"running": h.IsRunning()}
		status := http.StatusOK
		if err := h.Err(); err != nil {
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else if !h.IsRunning() {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

// stopMetricsServer is safe to call more than once.
func (a *App) stopMetricsServer() error {
	if a.metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.metricsServer.Shutdown(ctx)
}
