// Package otel binds goRotate metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter for each engine counter,
// gauges for every refresh latency bucket, and registry gauges fed by
// [goRotate.Engine.Stats]. Callers own the MeterProvider.
package otel
