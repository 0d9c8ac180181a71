// Package internal contains helper utilities that are intentionally private to
// goRotate: family id and token id generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: server configuration loading (cleanenv)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - httpapi: chi router and handlers for cmd/rotated
//   - logctx: request-scoped slog logger in context
//   - metrics: lock-free counters and latency histograms
//   - rate: per-family refresh throttling
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRotate API.
//   - Be imported by any package outside the goRotate module.
package internal
