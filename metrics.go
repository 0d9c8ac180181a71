package goRotate

import (
	"time"

	internalmetrics "github.com/MrEthical07/goRotate/internal/metrics"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricIssueSuccess counts families started by Issue.
	MetricIssueSuccess MetricID = iota
	// MetricIssueFailure counts failed Issue calls.
	MetricIssueFailure
	// MetricRefreshSuccess counts completed rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts every failed rotation, whatever the cause.
	MetricRefreshFailure
	// MetricRefreshInvalidToken counts rotations rejected by the codec or by a
	// claims/record mismatch.
	MetricRefreshInvalidToken
	// MetricRefreshReuseDetected counts lookup misses that revoked a family.
	MetricRefreshReuseDetected
	// MetricRefreshRaceLost counts rotations that lost the consume race.
	MetricRefreshRaceLost
	// MetricRefreshRateLimited counts throttled rotations.
	MetricRefreshRateLimited
	// MetricFamilyRevoked counts revoked families from any cause.
	MetricFamilyRevoked
	// MetricTokensRevoked counts records newly flagged revoked.
	MetricTokensRevoked
	// MetricLogout counts single-family logouts.
	MetricLogout
	// MetricLogoutAll counts revoke-all calls.
	MetricLogoutAll
	// MetricStoreUnavailable counts registry faults surfaced to callers.
	MetricStoreUnavailable
	// MetricStoreTimeout counts the subset of registry faults caused by a timeout.
	MetricStoreTimeout
	// MetricSweepRemoved counts records removed by SweepExpired.
	MetricSweepRemoved
	// MetricVerifyFailure counts tokens rejected by Verify and VerifyAccess.
	MetricVerifyFailure
	// MetricRefreshLatency is the latency histogram of successful rotations.
	MetricRefreshLatency
	metricIDCount
)

// Metrics is the engine's in-process counter set. All methods are safe on a
// nil receiver and allocation-free on the write path.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]internalmetrics.Counter
	histograms    [metricIDCount]internalmetrics.Histogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histogram buckets are non-cumulative.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Inc()
}

// Add adds n to counter id.
func (m *Metrics) Add(id MetricID, n int) {
	if m == nil || !m.enabled || id >= metricIDCount || n <= 0 {
		return
	}
	m.counters[id].Add(uint64(n))
}

// Observe records d into histogram id. Only [MetricRefreshLatency] is a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRefreshLatency {
		return
	}
	m.histograms[id].Observe(d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies the current values. A disabled instance returns empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRefreshLatency {
			continue
		}
		s.Counters[id] = m.counters[id].Load()
	}

	if m.enableLatency {
		s.Histograms[MetricRefreshLatency] = m.histograms[MetricRefreshLatency].Buckets()
		s.HistogramSums[MetricRefreshLatency] = m.histograms[MetricRefreshLatency].Sum()
	}

	return s
}
