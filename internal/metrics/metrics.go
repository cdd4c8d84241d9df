// Package metrics exposes Prometheus counters for the conversation loop.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the counters on a private registry, so tests and multiple
// instances never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal     prometheus.Counter
	toolCalls      *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	memorySaves    prometheus.Counter
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		turnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nuwa_turns_total",
			Help: "Completed conversation turns.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nuwa_tool_calls_total",
			Help: "Tool invocations by tool name.",
		}, []string{"tool"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nuwa_tokens_total",
			Help: "Token usage by direction.",
		}, []string{"direction"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nuwa_provider_errors_total",
			Help: "Provider call failures by error code.",
		}, []string{"code"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nuwa_turn_duration_seconds",
			Help:    "Wall time of a conversation turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		memorySaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nuwa_memory_saves_total",
			Help: "Memories persisted by extraction or explicit add.",
		}),
	}

	registry.MustRegister(
		m.turnsTotal,
		m.toolCalls,
		m.tokens,
		m.providerErrors,
		m.turnDuration,
		m.memorySaves,
	)

	return m
}

// RecordTurn counts one completed turn and its duration.
func (m *Metrics) RecordTurn(duration time.Duration) {
	m.turnsTotal.Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(tool string) {
	m.toolCalls.WithLabelValues(tool).Inc()
}

// RecordTokens counts prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("completion").Add(float64(completion))
}

// RecordProviderError counts a provider failure by error code.
func (m *Metrics) RecordProviderError(code string) {
	m.providerErrors.WithLabelValues(code).Inc()
}

// RecordMemorySave counts persisted memories.
func (m *Metrics) RecordMemorySave(n int) {
	m.memorySaves.Add(float64(n))
}

// Registry exposes the underlying registry for test scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
