package goRotate

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/goRotate/internal/audit"
)

// AuditEvent is one security-relevant rotation event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a sink that buffers up to buffer events for a reader
// of [ChannelSink.Events].
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging events through log.
func NewSlogSink(log *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(log)
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, log *slog.Logger) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
		Logger:     log,
	}, sink)
}
