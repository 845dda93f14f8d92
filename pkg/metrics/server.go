// Package metrics provides Prometheus metrics for the epitrend daemon
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epitrend/epitrend/pkg/logx"
)

// Server exposes pipeline metrics over HTTP and implements the engine's
// Recorder contract
type Server struct {
	logger *logx.Logger
	server *http.Server

	forecastsTotal   *prometheus.CounterVec
	backendFailures  *prometheus.CounterVec
	forecastDuration prometheus.Histogram
	historyMonths    prometheus.Gauge
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string, logger *logx.Logger) *Server {
	s := &Server{logger: logger}

	s.forecastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "epitrend_forecasts_total",
		Help: "Forecast requests by model and outcome",
	}, []string{"model", "outcome"})

	s.backendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "epitrend_backend_failures_total",
		Help: "Model backend fit/predict failures absorbed by fallback",
	}, []string{"backend"})

	s.forecastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "epitrend_forecast_duration_seconds",
		Help:    "End-to-end forecast pipeline duration",
		Buckets: prometheus.DefBuckets,
	})

	s.historyMonths = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "epitrend_history_months",
		Help: "Months of history in the most recent aggregated series",
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(s.forecastsTotal, s.backendFailures, s.forecastDuration, s.historyMonths)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ObserveForecast records one completed forecast request
func (s *Server) ObserveForecast(model string, outcome string, elapsed time.Duration) {
	s.forecastsTotal.WithLabelValues(model, outcome).Inc()
	s.forecastDuration.Observe(elapsed.Seconds())
}

// RecordBackendFailure counts a non-fatal backend failure
func (s *Server) RecordBackendFailure(backend string) {
	s.backendFailures.WithLabelValues(backend).Inc()
}

// SetHistoryMonths tracks the series length of the latest request
func (s *Server) SetHistoryMonths(months int) {
	s.historyMonths.Set(float64(months))
}

// Start serves metrics until the listener fails or Stop is called
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop shuts the metrics server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
