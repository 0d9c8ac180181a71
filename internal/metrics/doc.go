// Package metrics stores the engine's counters and its one latency histogram.
//
// Every slot is a padded atomic uint64, so recording never locks or
// allocates. The histogram has 8 fixed buckets from 5ms to +Inf and keeps a
// running nanosecond sum next to them.
//
// Metric ids are owned by the root package. This package only sizes and
// updates slots; the exporters under metrics/export read root snapshots and
// never touch these types directly.
package metrics
