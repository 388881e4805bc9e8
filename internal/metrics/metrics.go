// Package metrics exposes the Prometheus collectors of the digest pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DigestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_runs_total",
		Help: "Digest runs by final outcome",
	}, []string{"digest", "outcome"})

	DigestRunSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_run_seconds",
		Help:    "Time spent in one digest run",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"digest"})

	DigestUploads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "digest_uploads",
		Help: "Uploads included in the latest run of a digest",
	}, []string{"digest"})

	ChannelFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_fetch_errors_total",
		Help: "Channel fetches that failed and were skipped",
	}, []string{"digest"})

	AnalysisFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_fallbacks_total",
		Help: "Uploads or syntheses that fell back to a degraded result",
	}, []string{"stage"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Outbound requests",
	}, []string{"component", "operation", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Duration of LLM generations",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Tokens consumed by LLM calls",
	}, []string{"model", "type"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DigestRunsTotal,
		DigestRunSeconds,
		DigestUploads,
		ChannelFetchErrors,
		AnalysisFallbacks,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest records duration and status of an outbound request.
func ObserveNetworkRequest(component, operation string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, status).Inc()
}

// ObserveLLMGeneration records generation latency and token usage.
func ObserveLLMGeneration(model string, duration time.Duration, inputTokens, outputTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}
