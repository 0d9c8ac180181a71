// Package goRotate issues paired access and refresh tokens and rotates refresh
// tokens as one-time credentials grouped into families.
//
// Every successful [Engine.Refresh] consumes the presented refresh token and
// issues a successor in the same family. Presenting a token that is no longer
// tracked is treated as theft: the whole family is revoked and
// [ErrTokenReuseDetected] is returned. The old token is consumed and its
// successor registered by a single [session.Registry] Rotate call, so a family
// revocation can never fall between the two.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goRotate is the public surface. It exposes [Engine], [Builder], [Config], and
// value types ([TokenPair], [Stats], [HealthStatus], [MetricsSnapshot]). Flow
// orchestration, rate limiting and audit dispatch live under internal/. The
// token codec lives in package jwt and the registry contract in package
// session; both are importable on their own.
//
// # Failure semantics
//
// A registry that cannot answer never looks like a missing token. Store faults
// surface as [ErrStoreUnavailable] (and [ErrStoreTimeout] when the per-call
// deadline expired) and never trigger a family revocation.
package goRotate
