package inject

import (
	"expvar"
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"
)

// Metrics holds the engine's diagnostic counters plus a t-digest of
// scheduled delay latencies, so tests and operators can inspect the latency
// profile a delay rule actually produced.
type Metrics struct {
	HandlersCreated *expvar.Int
	HandlersRemoved *expvar.Int
	ActiveHandlers  *expvar.Int

	mu          sync.Mutex
	delayDigest *tdigest.TDigest
	delayCount  int64
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	td, err := tdigest.New()
	if err != nil {
		panic("tdigest.New failed: " + err.Error())
	}
	return &Metrics{
		HandlersCreated: new(expvar.Int),
		HandlersRemoved: new(expvar.Int),
		ActiveHandlers:  new(expvar.Int),
		delayDigest:     td,
	}
}

// ObserveDelay records one scheduled delay.
func (m *Metrics) ObserveDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Add only fails on NaN/Inf, which a Duration cannot produce.
	_ = m.delayDigest.Add(float64(d.Nanoseconds()))
	m.delayCount++
}

// DelaysScheduled returns the number of delays recorded.
func (m *Metrics) DelaysScheduled() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayCount
}

// DelayQuantile returns the q-quantile (0..1) of scheduled delay latencies
// in nanoseconds, or zero when none have been recorded.
func (m *Metrics) DelayQuantile(q float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delayCount == 0 {
		return 0
	}
	return time.Duration(m.delayDigest.Quantile(q))
}
