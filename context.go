package goRotate

import "context"

// clientMeta is the request origin recorded in audit event metadata.
type clientMeta struct {
	ip        string
	userAgent string
}

type clientMetaKey struct{}

func withClientMeta(ctx context.Context, update func(*clientMeta)) context.Context {
	meta, _ := ctx.Value(clientMetaKey{}).(clientMeta)
	update(&meta)
	return context.WithValue(ctx, clientMetaKey{}, meta)
}

// WithClientIP attaches the caller's IP address to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return withClientMeta(ctx, func(m *clientMeta) { m.ip = ip })
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withClientMeta(ctx, func(m *clientMeta) { m.userAgent = userAgent })
}

// auditMetadata merges the request origin into extra. It returns nil when
// there is nothing to record.
func auditMetadata(ctx context.Context, extra map[string]string) map[string]string {
	var meta clientMeta
	if ctx != nil {
		meta, _ = ctx.Value(clientMetaKey{}).(clientMeta)
	}
	if meta.ip == "" && meta.userAgent == "" {
		return extra
	}

	if extra == nil {
		extra = make(map[string]string, 2)
	}
	if meta.ip != "" {
		extra["ip"] = meta.ip
	}
	if meta.userAgent != "" {
		extra["user_agent"] = meta.userAgent
	}
	return extra
}
