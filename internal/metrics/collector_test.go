package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
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

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.sessionsActive)
	assert.NotNil(t, collector.extractionsTotal)
	assert.NotNil(t, collector.poolQueued)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/connections", 200, 100*time.Millisecond, 0, 64)
	collector.RecordHTTPRequest("GET", "/ws", 400, 5*time.Millisecond, 0, 32)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/connections", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/ws", "4xx")))
}

func TestCollector_SessionLifecycle(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SessionOpened()
	collector.SessionOpened()
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.sessionsActive))

	collector.RecordFrame("binary", 88200)
	collector.RecordFrame("text", 5)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.framesReceived.WithLabelValues("binary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.framesReceived.WithLabelValues("text")))

	collector.SessionClosed("client_closed", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sessionsTotal.WithLabelValues("client_closed")))
}

func TestCollector_RecordExtraction(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordExtraction("ok", 300*time.Millisecond, 1.0, 4)
	collector.RecordExtraction("ok", 200*time.Millisecond, 0.5, 2)
	collector.RecordExtraction("TOOL_EXECUTION_ERROR", time.Second, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.extractionsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.extractionsTotal.WithLabelValues("TOOL_EXECUTION_ERROR")))
	assert.InDelta(t, 1.5, testutil.ToFloat64(collector.audioSecondsSeen), 1e-9)
	assert.Equal(t, 6.0, testutil.ToFloat64(collector.cuesEmitted))
}

func TestCollector_RecordPoolAndRegistry(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordPool(4, 2, 7)
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.poolWorkers.WithLabelValues("running")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.poolWorkers.WithLabelValues("active")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.poolQueued))

	collector.RecordRegistryOp("redis", "put", nil)
	collector.RecordRegistryOp("redis", "put", errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.registryOps.WithLabelValues("redis", "put", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.registryOps.WithLabelValues("redis", "put", "error")))
}

func TestCollector_RecordDatabase(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("sqlite", "insert", 20*time.Millisecond)
	collector.RecordDBConnections("sqlite", 10, 5)

	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("sqlite")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("sqlite")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/ws", 101, time.Millisecond, 0, 0)
			collector.RecordFrame("binary", 1024)
			collector.RecordExtraction("ok", 10*time.Millisecond, 0.1, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.framesReceived.WithLabelValues("binary")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.extractionsTotal.WithLabelValues("ok")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 同一指标可同时注册到自定义 registry
	registry.MustRegister(collector.extractionsTotal)
	collector.RecordExtraction("ok", time.Millisecond, 0, 0)

	count, err := testutil.GatherAndCount(registry)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(200))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(101))
}
