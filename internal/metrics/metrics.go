// Package metrics holds the Prometheus collectors for the tutoring engine.
// Every method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhisek/tutorium/internal/llm"
)

type Metrics struct {
	quizGenerations    *prometheus.CounterVec
	generationAttempts prometheus.Histogram
	gradePercentage    prometheus.Histogram
	hints              *prometheus.CounterVec
	reward             *prometheus.HistogramVec
	chunksIngested     prometheus.Counter
	chunksEmbedded     prometheus.Counter
	retrievalResults   prometheus.Histogram
	embeddingCache     *prometheus.CounterVec
	llmTokens          *prometheus.CounterVec
	llmCost            *prometheus.CounterVec
	llmRequests        *prometheus.CounterVec
	llmLatency         *prometheus.HistogramVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quizGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_quiz_generations_total",
			Help: "Quiz generations by final state.",
		}, []string{"outcome"}),
		generationAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutorium_quiz_generation_attempts",
			Help:    "Drafting attempts per quiz generation.",
			Buckets: []float64{1, 2, 3, 4},
		}),
		gradePercentage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutorium_grade_percentage",
			Help:    "Quiz scores in percent.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		hints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_hints_total",
			Help: "Hints served by source.",
		}, []string{"source"}),
		reward: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorium_reward",
			Help:    "Recorded trajectory rewards.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"action_type"}),
		chunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutorium_chunks_ingested_total",
			Help: "Lecture-note chunks stored.",
		}),
		chunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutorium_chunks_embedded_total",
			Help: "Lecture-note chunks that received an embedding.",
		}),
		retrievalResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutorium_retrieval_results",
			Help:    "Chunks returned per retrieval.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_embedding_cache_total",
			Help: "Embedding cache lookups by result.",
		}, []string{"result"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_llm_tokens_total",
			Help: "Generation backend tokens used.",
		}, []string{"model", "type"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_llm_cost_usd_total",
			Help: "Estimated generation backend cost in USD.",
		}, []string{"model"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorium_llm_requests_total",
			Help: "Generation backend calls by purpose and status.",
		}, []string{"purpose", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorium_llm_latency_seconds",
			Help:    "Generation backend call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"purpose"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorium_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.quizGenerations, m.generationAttempts, m.gradePercentage, m.hints, m.reward,
		m.chunksIngested, m.chunksEmbedded, m.retrievalResults, m.embeddingCache,
		m.llmTokens, m.llmCost, m.llmRequests, m.llmLatency, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) QuizGenerated(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.quizGenerations.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.generationAttempts.Observe(float64(attempts))
	}
}

func (m *Metrics) Graded(percentage int) {
	if m == nil {
		return
	}
	m.gradePercentage.Observe(float64(percentage))
}

func (m *Metrics) HintServed(source string) {
	if m == nil {
		return
	}
	m.hints.WithLabelValues(source).Inc()
}

func (m *Metrics) Reward(actionType string, r float64) {
	if m == nil {
		return
	}
	m.reward.WithLabelValues(actionType).Observe(r)
}

func (m *Metrics) ChunksIngested(n int) {
	if m == nil {
		return
	}
	m.chunksIngested.Add(float64(n))
}

func (m *Metrics) ChunksEmbedded(n int) {
	if m == nil {
		return
	}
	m.chunksEmbedded.Add(float64(n))
}

func (m *Metrics) Retrieved(n int) {
	if m == nil {
		return
	}
	m.retrievalResults.Observe(float64(n))
}

func (m *Metrics) EmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCache.WithLabelValues(result).Inc()
}

// ObserveLLM implements llm.UsageObserver.
func (m *Metrics) ObserveLLM(model, purpose string, usage llm.Usage, latency time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	var timeout *llm.ErrTimeout
	switch {
	case errors.As(err, &timeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	m.llmRequests.WithLabelValues(purpose, status).Inc()
	m.llmLatency.WithLabelValues(purpose).Observe(latency.Seconds())
	m.llmTokens.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	m.llmTokens.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	if cost := llm.LookupCost(model); cost != nil {
		m.llmCost.WithLabelValues(model).Add(cost.Cost(usage.InputTokens, usage.OutputTokens))
	}
}

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}
