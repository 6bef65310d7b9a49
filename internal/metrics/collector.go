// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器；nil Collector 的所有方法都是空操作
type Collector struct {
	// Handoff 指标
	handoffsTotal   *prometheus.CounterVec
	handoffDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	latencyBreaches *prometheus.CounterVec
	inflight        prometheus.Gauge

	// 协议指标
	handshakesTotal   *prometheus.CounterVec
	negotiationsTotal *prometheus.CounterVec
	syncsTotal        *prometheus.CounterVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewCollector 在 reg 上注册指标；reg 为 nil 时使用独立 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	c := &Collector{
		gatherer: gatherer,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoffs by path and status",
		},
		[]string{"path", "status"},
	)

	c.handoffDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_duration_seconds",
			Help:      "Handoff duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"path"},
	)

	c.fallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_fallbacks_total",
			Help:      "Fallback attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	c.latencyBreaches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_latency_breaches_total",
			Help:      "Handoffs whose latency exceeded the target or the max threshold",
		},
		[]string{"level"},
	)

	c.inflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handoffs_inflight",
		Help:      "Handoffs currently executing",
	})

	c.handshakesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by role and final state",
		},
		[]string{"role", "state"},
	)

	c.negotiationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Task negotiations by resolution path and outcome",
		},
		[]string{"path", "outcome"},
	)

	c.syncsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_syncs_total",
			Help:      "State syncs by kind, resolution path and outcome",
		},
		[]string{"kind", "path", "outcome"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🔄 Handoff 指标
// =============================================================================

// RecordHandoff 记录一次 handoff 结果
func (c *Collector) RecordHandoff(path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(path, status).Inc()
	c.handoffDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordFallback 记录一次回退尝试（kind: local_backend, least_loaded）
func (c *Collector) RecordFallback(kind string, success bool) {
	if c == nil {
		return
	}
	c.fallbacksTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// RecordLatencyBreach 记录延迟越界（level: target, max）
func (c *Collector) RecordLatencyBreach(level string) {
	if c == nil {
		return
	}
	c.latencyBreaches.WithLabelValues(level).Inc()
}

// HandoffStarted / HandoffFinished 维护在途 handoff 数
func (c *Collector) HandoffStarted() {
	if c != nil {
		c.inflight.Inc()
	}
}

func (c *Collector) HandoffFinished() {
	if c != nil {
		c.inflight.Dec()
	}
}

// =============================================================================
// 🤝 协议指标
// =============================================================================

// RecordHandshake 记录握手结束状态（role: initiator, responder）
func (c *Collector) RecordHandshake(role, state string) {
	if c == nil {
		return
	}
	c.handshakesTotal.WithLabelValues(role, state).Inc()
}

// RecordNegotiation 记录协商结果（path: tool, event, default）
func (c *Collector) RecordNegotiation(path string, accepted bool) {
	if c == nil {
		return
	}
	c.negotiationsTotal.WithLabelValues(path, outcome(accepted)).Inc()
}

// RecordSync 记录状态同步结果
func (c *Collector) RecordSync(kind, path string, acknowledged bool) {
	if c == nil {
		return
	}
	c.syncsTotal.WithLabelValues(kind, path, outcome(acknowledged)).Inc()
}

// =============================================================================
// 🌐 HTTP 指标
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return strconv.Itoa(status)
	}
}
