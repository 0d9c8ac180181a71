package internaldefs

import (
	goRotate "github.com/MrEthical07/goRotate"
	internalmetrics "github.com/MrEthical07/goRotate/internal/metrics"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goRotate.MetricIssueSuccess, Name: "gorotate_issue_success_total", Help: "Token pairs issued for new families."},
	{ID: goRotate.MetricIssueFailure, Name: "gorotate_issue_failure_total", Help: "Failed initial issuances."},
	{ID: goRotate.MetricRefreshSuccess, Name: "gorotate_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goRotate.MetricRefreshFailure, Name: "gorotate_refresh_failure_total", Help: "Failed refresh token rotations."},
	{ID: goRotate.MetricRefreshInvalidToken, Name: "gorotate_refresh_invalid_token_total", Help: "Refresh attempts with tokens that did not verify."},
	{ID: goRotate.MetricRefreshReuseDetected, Name: "gorotate_refresh_reuse_detected_total", Help: "Refresh tokens presented after consumption or revocation."},
	{ID: goRotate.MetricRefreshRaceLost, Name: "gorotate_refresh_race_lost_total", Help: "Concurrent rotations that lost the consume race."},
	{ID: goRotate.MetricRefreshRateLimited, Name: "gorotate_refresh_rate_limited_total", Help: "Refresh attempts rejected by the per-family throttle."},
	{ID: goRotate.MetricFamilyRevoked, Name: "gorotate_family_revoked_total", Help: "Token families revoked."},
	{ID: goRotate.MetricTokensRevoked, Name: "gorotate_tokens_revoked_total", Help: "Refresh token records marked revoked."},
	{ID: goRotate.MetricLogout, Name: "gorotate_logout_total", Help: "Single-session logout operations."},
	{ID: goRotate.MetricLogoutAll, Name: "gorotate_logout_all_total", Help: "Logout-all operations."},
	{ID: goRotate.MetricStoreUnavailable, Name: "gorotate_store_unavailable_total", Help: "Registry calls that failed."},
	{ID: goRotate.MetricStoreTimeout, Name: "gorotate_store_timeout_total", Help: "Registry calls that exceeded the operation timeout."},
	{ID: goRotate.MetricSweepRemoved, Name: "gorotate_sweep_removed_total", Help: "Expired records removed by sweeps."},
	{ID: goRotate.MetricVerifyFailure, Name: "gorotate_verify_failure_total", Help: "Access token verifications that failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRotate.MetricRefreshLatency, Name: "gorotate_refresh_latency_seconds", Help: "Successful refresh latency."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching
// internal/metrics.Bounds plus +Inf.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds rendered for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// CumulativeBuckets converts a snapshot's non-cumulative buckets into running
// totals. Short input is padded with zeros.
func CumulativeBuckets(raw []uint64) [internalmetrics.BucketCount]uint64 {
	return internalmetrics.Cumulative(raw)
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(internalmetrics.Bounds))
	for i, b := range internalmetrics.Bounds {
		out[i] = b.Seconds()
	}
	return out
}
