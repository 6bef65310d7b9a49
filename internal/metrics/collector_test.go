package metrics

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHandoff(t *testing.T) {
	c := NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())

	c.RecordHandoff("local", "success", 120*time.Millisecond)
	c.RecordHandoff("local", "success", 80*time.Millisecond)
	c.RecordHandoff("remote", "failed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.handoffsTotal.WithLabelValues("local", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handoffsTotal.WithLabelValues("remote", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.handoffDuration))
}

func TestCollector_ProtocolCounters(t *testing.T) {
	c := NewCollector(nextTestNamespace(), nil, nil)

	c.RecordHandshake("initiator", "ACCEPTED")
	c.RecordNegotiation("default", true)
	c.RecordNegotiation("event", false)
	c.RecordSync("incremental", "default", true)
	c.RecordFallback("least_loaded", false)
	c.RecordLatencyBreach("target")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakesTotal.WithLabelValues("initiator", "ACCEPTED")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.negotiationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.syncsTotal.WithLabelValues("incremental", "default", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacksTotal.WithLabelValues("least_loaded", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.latencyBreaches.WithLabelValues("target")))
}

func TestCollector_Inflight(t *testing.T) {
	c := NewCollector(nextTestNamespace(), nil, nil)
	c.HandoffStarted()
	c.HandoffStarted()
	c.HandoffFinished()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflight))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHandoff("local", "success", time.Millisecond)
		c.RecordHandshake("initiator", "FAILED")
		c.RecordNegotiation("tool", true)
		c.RecordSync("full", "event", true)
		c.RecordFallback("local_backend", true)
		c.RecordLatencyBreach("max")
		c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
		c.HandoffStarted()
		c.HandoffFinished()
	})
}

func TestCollector_HandlerExposesMetrics(t *testing.T) {
	ns := nextTestNamespace()
	c := NewCollector(ns, prometheus.NewRegistry(), nil)
	c.RecordHTTPRequest("GET", "/health", 204, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, ns+"_http_requests_total"))
	assert.Contains(t, body, `status="2xx"`)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "101", statusClass(101))
}
