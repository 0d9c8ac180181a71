package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goRotate/session"
)

type IntrospectionRegistry interface {
	Stats(ctx context.Context) (session.Stats, error)
	SweepExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) (time.Duration, error)
}

type IntrospectionDeps struct {
	Registry          IntrospectionRegistry
	EngineNotReadyErr error
}

func RunStats(ctx context.Context, deps IntrospectionDeps) (session.Stats, error) {
	if deps.Registry == nil {
		return session.Stats{}, deps.EngineNotReadyErr
	}
	return deps.Registry.Stats(ctx)
}

func RunSweep(ctx context.Context, deps IntrospectionDeps) (int, error) {
	if deps.Registry == nil {
		return 0, deps.EngineNotReadyErr
	}
	return deps.Registry.SweepExpired(ctx)
}

// HealthResult is the outcome of a registry ping.
type HealthResult struct {
	Available bool
	Latency   time.Duration
	Err       error
}

func RunHealth(ctx context.Context, deps IntrospectionDeps) HealthResult {
	if deps.Registry == nil {
		return HealthResult{Err: deps.EngineNotReadyErr}
	}
	latency, err := deps.Registry.Ping(ctx)
	if err != nil {
		return HealthResult{Latency: latency, Err: err}
	}
	return HealthResult{Available: true, Latency: latency}
}
