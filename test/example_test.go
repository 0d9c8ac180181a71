package test

import (
	"context"
	"errors"
	"fmt"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

// ExampleEngine_Refresh shows rotation and reuse detection.
func ExampleEngine_Refresh() {
	cfg := goRotate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("example-secret-example-secret-xx")

	engine, err := goRotate.New().
		WithConfig(cfg).
		WithRegistry(session.NewMemoryStore()).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	first, _ := engine.Issue(ctx, goRotate.Identity{Subject: "42", Role: jwt.RoleUser})

	second, err := engine.Refresh(ctx, first.RefreshToken)
	fmt.Println("rotated:", err == nil, "same family:", second.Family == first.Family)

	_, err = engine.Refresh(ctx, first.RefreshToken)
	fmt.Println("replay detected:", errors.Is(err, goRotate.ErrTokenReuseDetected))

	_, err = engine.Refresh(ctx, second.RefreshToken)
	fmt.Println("family revoked:", errors.Is(err, goRotate.ErrTokenReuseDetected))

	// Output:
	// rotated: true same family: true
	// replay detected: true
	// family revoked: true
}

// ExampleEngine_MetricsSnapshot shows how to read in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goRotate.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[goRotate.MetricRefreshReuseDetected]
}
