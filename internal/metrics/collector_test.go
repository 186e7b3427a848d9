package metrics

import (
	"fmt"
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

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.requestsTotal)
	assert.NotNil(t, collector.requestDuration)
	assert.NotNil(t, collector.backendCallsTotal)
	assert.NotNil(t, collector.backendTokensUsed)
	assert.NotNil(t, collector.backendCost)
}

func TestCollector_RecordRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRequest("ok", 100*time.Millisecond)
	count := testutil.CollectAndCount(collector.requestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordRequest("error", 50*time.Millisecond)
	newCount := testutil.CollectAndCount(collector.requestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordBackendCall(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordBackendCall("openai", "ok", 500*time.Millisecond, 100, 50, 0.01)

	assert.Greater(t, testutil.CollectAndCount(collector.backendCallsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.backendTokensUsed), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.backendCost), 0)
}

func TestCollector_RecordBreakerTransition(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordBreakerTransition("openai", "closed", "open")

	assert.Greater(t, testutil.CollectAndCount(collector.breakerTransitions), 0)
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.breakerState.WithLabelValues("openai")))

	collector.RecordBreakerTransition("openai", "open", "half_open")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.breakerState.WithLabelValues("openai")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("local")
	collector.RecordCacheMiss("local")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordLedgerGauges(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLedgerQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.ledgerQueueDepth))

	collector.RecordLedgerOverflow()
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.ledgerOverflow))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordRequest("ok", 100*time.Millisecond)
			collector.RecordBackendCall("openai", "ok", 500*time.Millisecond, 100, 50, 0.01)
			collector.RecordCacheHit("local")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.requestsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.backendCallsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	registry.MustRegister(collector.requestsTotal)
	registry.MustRegister(collector.requestDuration)

	collector.RecordRequest("ok", 100*time.Millisecond)
	assert.Greater(t, testutil.CollectAndCount(collector.requestsTotal), 0)
}
