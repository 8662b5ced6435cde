// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 管线指标
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	stageDuration   *prometheus.HistogramVec
	clarifications  *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	candidatesFused prometheus.Histogram
	answerTokens    *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 管线指标
	c.queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of pipeline queries",
		},
		[]string{"complexity", "query_type", "strategy", "status"},
	)

	c.queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage pipeline duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.clarifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_total",
			Help:      "Total number of clarification stops",
		},
		[]string{"kind"},
	)

	c.fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of graceful degradations",
		},
		[]string{"stage"}, // stage: expansion, rerank, embedding, summary
	)

	c.candidatesFused = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_fused",
			Help:      "Number of candidates after rank fusion",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 50},
		},
	)

	c.answerTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_tokens_total",
			Help:      "Total number of tokens spent on answers",
		},
		[]string{"type"}, // type: prompt, completion
	)

	// LLM 指标
	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "type"}, // type: prompt, completion
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"kind"}, // kind: exact, semantic
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"kind"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔎 管线指标记录
// =============================================================================

// RecordQuery 记录一次完整的管线查询
func (c *Collector) RecordQuery(complexity, queryType, strategy, status string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(complexity, queryType, strategy, status).Inc()
	c.queryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordStage 记录单个阶段耗时
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordClarification 记录澄清停止
func (c *Collector) RecordClarification(kind string) {
	c.clarifications.WithLabelValues(kind).Inc()
}

// RecordFallback 记录优雅降级
func (c *Collector) RecordFallback(stage string) {
	c.fallbacksTotal.WithLabelValues(stage).Inc()
}

// RecordFusion 记录融合候选数
func (c *Collector) RecordFusion(candidates int) {
	c.candidatesFused.Observe(float64(candidates))
}

// RecordAnswerTokens 记录回答的 token 消耗
func (c *Collector) RecordAnswerTokens(promptTokens, completionTokens int) {
	c.answerTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	c.answerTokens.WithLabelValues("completion").Add(float64(completionTokens))
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(kind string) {
	c.cacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(kind string) {
	c.cacheMisses.WithLabelValues(kind).Inc()
}
