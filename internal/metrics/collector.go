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
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	frameBytes       prometheus.Histogram
	sessionDuration  prometheus.Histogram
	audioSecondsSeen prometheus.Counter

	// 提取指标
	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	cuesEmitted        prometheus.Counter

	// 工作池指标
	poolWorkers *prometheus.GaugeVec
	poolQueued  prometheus.Gauge

	// 会话注册表指标
	registryOps *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
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

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open lip-sync sessions",
		},
	)

	c.sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of lip-sync sessions by close reason",
		},
		[]string{"reason"},
	)

	c.framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of websocket frames received",
		},
		[]string{"type"}, // binary, text
	)

	c.frameBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "Size of binary audio frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	c.sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock lifetime of lip-sync sessions",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	c.audioSecondsSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Total seconds of audio reported by the extraction tool",
		},
	)

	// 提取指标
	c.extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of viseme extractions",
		},
		[]string{"status"}, // ok, skipped, or an error code
	)

	c.extractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Viseme extraction latency in seconds, including queueing",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	c.cuesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mouth_cues_total",
			Help:      "Total number of mouth cues sent to clients",
		},
	)

	// 工作池指标
	c.poolWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      "Extraction pool workers by state",
		},
		[]string{"state"}, // running, active
	)

	c.poolQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queued_tasks",
			Help:      "Extraction tasks waiting for a worker",
		},
	)

	c.registryOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Total number of session registry operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎙️ 会话指标记录
// =============================================================================

// SessionOpened 记录会话建立
func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
}

// SessionClosed 记录会话结束及其原因
func (c *Collector) SessionClosed(reason string, lifetime time.Duration) {
	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(reason).Inc()
	c.sessionDuration.Observe(lifetime.Seconds())
}

// RecordFrame 记录收到的帧
func (c *Collector) RecordFrame(frameType string, size int) {
	c.framesReceived.WithLabelValues(frameType).Inc()
	if frameType == "binary" {
		c.frameBytes.Observe(float64(size))
	}
}

// =============================================================================
// 👄 提取指标记录
// =============================================================================

// RecordExtraction 记录一次提取；status 为 ok、skipped 或错误码
func (c *Collector) RecordExtraction(status string, latency time.Duration, audioSeconds float64, cues int) {
	c.extractionsTotal.WithLabelValues(status).Inc()
	c.extractionDuration.WithLabelValues(status).Observe(latency.Seconds())
	if audioSeconds > 0 {
		c.audioSecondsSeen.Add(audioSeconds)
	}
	if cues > 0 {
		c.cuesEmitted.Add(float64(cues))
	}
}

// RecordPool 记录工作池状态
func (c *Collector) RecordPool(workers, active, queued int) {
	c.poolWorkers.WithLabelValues("running").Set(float64(workers))
	c.poolWorkers.WithLabelValues("active").Set(float64(active))
	c.poolQueued.Set(float64(queued))
}

// RecordRegistryOp 记录注册表操作
func (c *Collector) RecordRegistryOp(backend, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.registryOps.WithLabelValues(backend, operation, status).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
