// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器。所有方法对 nil 接收者安全，
// 未接入监控的调用方可以直接传 nil。
type Collector struct {
	// 节点执行指标
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	nodeRetriesTotal      prometheus.Counter

	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	// 缓存指标
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheCoalesced prometheus.Counter

	// 检索指标
	retrievalChunks prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定的 Registerer。
// registerer 为 nil 时使用默认注册表。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions by step kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	c.nodeExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.nodeRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of node retry attempts",
		},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by final status",
		},
		[]string{"status"},
	)

	c.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	c.cacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	c.cacheCoalesced = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_coalesced_total",
			Help:      "Total number of callers coalesced onto in-flight computations",
		},
	)

	c.retrievalChunks = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_chunks",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	return c
}

// NodeExecution 记录一次节点执行。
func (c *Collector) NodeExecution(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(kind, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// NodeRetry 记录一次节点重试。
func (c *Collector) NodeRetry() {
	if c == nil {
		return
	}
	c.nodeRetriesTotal.Inc()
}

// Run 记录一次工作流运行。
func (c *Collector) Run(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// CacheHit 记录一次缓存命中。
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// CacheMiss 记录一次缓存未命中。
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// CacheCoalesced 记录一次合并等待。
func (c *Collector) CacheCoalesced() {
	if c == nil {
		return
	}
	c.cacheCoalesced.Inc()
}

// RetrievalSize 记录一次检索返回的 chunk 数。
func (c *Collector) RetrievalSize(n int) {
	if c == nil {
		return
	}
	c.retrievalChunks.Observe(float64(n))
}
