package prometheus

import (
	"context"
	"net/http"
	"time"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultStatsTimeout = time.Second

type metricsSource interface {
	MetricsSnapshot() goRotate.MetricsSnapshot
	AuditDropped() uint64
}

type statsSource interface {
	Stats(ctx context.Context) (goRotate.Stats, error)
}

// PrometheusExporter is a [prometheus.Collector] over engine counters, the
// refresh latency histogram and registry gauges. Values are read on every
// scrape; nothing is cached.
type PrometheusExporter struct {
	source       metricsSource
	stats        statsSource
	statsTimeout time.Duration

	counters     []*prometheus.Desc
	histograms   []*prometheus.Desc
	auditDropped *prometheus.Desc
	registryUp   *prometheus.Desc
	totalTokens  *prometheus.Desc
	activeTokens *prometheus.Desc
}

// NewPrometheusExporter creates an exporter that reads from engine, including
// registry gauges from [goRotate.Engine.Stats].
func NewPrometheusExporter(engine *goRotate.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource creates an exporter over a custom source.
// Registry gauges are exported when source also has a Stats method.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:       source,
		statsTimeout: defaultStatsTimeout,
		counters:     make([]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms:   make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc("gorotate_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", nil, nil),
		registryUp:   prometheus.NewDesc("gorotate_registry_up", "Whether the last registry stats call succeeded.", nil, nil),
		totalTokens:  prometheus.NewDesc("gorotate_registry_tokens", "Refresh token records tracked by the registry.", nil, nil),
		activeTokens: prometheus.NewDesc("gorotate_registry_active_tokens", "Tracked records that are neither revoked nor expired.", nil, nil),
	}
	if s, ok := source.(statsSource); ok {
		p.stats = s
	}
	for i, def := range internaldefs.CounterDefs {
		p.counters[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		p.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return p
}

// WithStatsTimeout bounds the registry stats call made on each scrape.
func (p *PrometheusExporter) WithStatsTimeout(d time.Duration) *PrometheusExporter {
	if d > 0 {
		p.statsTimeout = d
	}
	return p
}

// Describe implements [prometheus.Collector].
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range p.counters {
		ch <- d
	}
	for _, d := range p.histograms {
		ch <- d
	}
	ch <- p.auditDropped
	if p.stats != nil {
		ch <- p.registryUp
		ch <- p.totalTokens
		ch <- p.activeTokens
	}
}

// Collect implements [prometheus.Collector].
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}

	snapshot := p.source.MetricsSnapshot()
	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(p.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	bounds := internaldefs.UpperBounds()
	for i, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(snapshot.Histograms[def.ID])
		buckets := make(map[float64]uint64, len(bounds))
		for j, le := range bounds {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		sum := snapshot.HistogramSums[def.ID].Seconds()
		ch <- prometheus.MustNewConstHistogram(p.histograms[i], count, sum, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.auditDropped, prometheus.CounterValue, float64(p.source.AuditDropped()))

	if p.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.statsTimeout)
	defer cancel()
	stats, err := p.stats.Stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(p.registryUp, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(p.registryUp, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(p.totalTokens, prometheus.GaugeValue, float64(stats.TotalTokens))
	ch <- prometheus.MustNewConstMetric(p.activeTokens, prometheus.GaugeValue, float64(stats.ActiveTokens))
}

// Handler serves the exporter from a private registry. To merge with other
// collectors, register the exporter on your own registry instead.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
