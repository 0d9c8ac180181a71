// Package prometheus exposes goRotate metrics as a client_golang collector.
//
// [PrometheusExporter] reads [goRotate.Engine.MetricsSnapshot] on each scrape and
// renders counters named gorotate_*_total, the gorotate_refresh_latency_seconds
// histogram, and registry gauges taken from [goRotate.Engine.Stats].
//
// The exporter never registers itself in the default registry. Either mount
// [PrometheusExporter.Handler] or register the exporter on a caller-owned
// registry.
package prometheus
