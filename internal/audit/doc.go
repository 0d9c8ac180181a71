// Package audit carries rotation audit events from the engine to a sink.
//
// The engine builds an [Event] per outcome (issue, rotation, reuse, logout,
// sweep) and hands it to a [Dispatcher], which delivers it from a background
// goroutine. Sinks shipped here write to a channel, to an io.Writer as JSON
// lines or to a slog.Logger.
//
// Which events exist is decided by the engine, not here. This package must not
// import goRotate.
package audit
