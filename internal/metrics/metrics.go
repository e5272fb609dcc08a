package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the process metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	GenerationCalls    *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	Retries            *prometheus.CounterVec

	Turns            *prometheus.CounterVec
	ProjectsLearned  prometheus.Counter
	PersistFlushes   *prometheus.CounterVec
	ActiveVoiceConns prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		GenerationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_calls_total",
			Help:      "Generation service calls by call site and outcome",
		}, []string{"call", "status"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_call_duration_seconds",
			Help:      "Time to first response from the generation service",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"call"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Retries scheduled by the retry executor",
		}, []string{"call"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns by persona and outcome",
		}, []string{"persona", "outcome"}),
		ProjectsLearned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_entries_learned_total",
			Help:      "Knowledge entries written for delivered projects",
		}),
		PersistFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_flushes_total",
			Help:      "Debounced persistence flushes by outcome",
		}, []string{"status"}),
		ActiveVoiceConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Open voice sessions",
		}),
	}
	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.GenerationCalls,
		c.GenerationDuration,
		c.Retries,
		c.Turns,
		c.ProjectsLearned,
		c.PersistFlushes,
		c.ActiveVoiceConns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRetry matches retry.Executor.OnRetry.
func (c *Collector) ObserveRetry(call string, _ int, _ time.Duration, _ error) {
	c.Retries.WithLabelValues(call).Inc()
}

func (c *Collector) ObserveTurn(persona, outcome string) {
	c.Turns.WithLabelValues(persona, outcome).Inc()
}

func (c *Collector) ObserveFlush(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.PersistFlushes.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
