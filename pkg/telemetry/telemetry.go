// Package telemetry wires the OTEL metrics pipeline to a Prometheus
// scrape endpoint and serves liveness and stats endpoints alongside it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/config"
)

// StatsSource supplies runtime counters for the /stats endpoint.
type StatsSource interface {
	Stats() map[string]any
}

// Server exposes /metrics, /healthz and /stats.
type Server struct {
	logger   *zap.Logger
	cfg      config.TelemetryConfig
	provider *sdkmetric.MeterProvider
	srv      *http.Server
	stats    StatsSource
}

// New installs the global OTEL meter provider backed by a Prometheus
// exporter and prepares the HTTP server. Metrics registered anywhere in
// the process become scrapeable once Start is called.
func New(logger *zap.Logger, cfg config.TelemetryConfig, stats StatsSource) (*Server, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("spothive"),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		provider: provider,
		stats:    stats,
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start serves until Shutdown is called. It returns on listener failure.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("Telemetry disabled")
		return nil
	}
	s.logger.Info("Telemetry server listening", zap.String("addr", s.cfg.MetricsAddr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and flushes the meter provider.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.Enabled {
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Warn("Telemetry server shutdown", zap.Error(err))
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.logger.Warn("Failed to write health response", zap.Error(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"status": "ok"}
	if s.stats != nil {
		body["pools"] = s.stats.Stats()
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write stats response", zap.Error(err))
	}
}
