// Command rotate-loadtest measures issuance and rotation throughput against a
// Redis-backed registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type familyState struct {
	mu      sync.Mutex
	refresh string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of families to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "refresh operations")
		replays     = flag.Int("replays", 1000, "replayed refresh tokens (each revokes a family)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rt", "registry key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *replays < 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goRotate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("rotate-loadtest-secret-0123456789")
	cfg.Metrics.Enabled = true

	engine, err := goRotate.New().
		WithConfig(cfg).
		WithRegistry(session.NewStore(client, *prefix)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]familyState, *sessions)
	fmt.Printf("seeding %d families...\n", *sessions)
	seedStats := runIssuePhase(ctx, engine, states, *concurrency)

	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)
	replayStats := runReplayPhase(ctx, engine, states, *replays, *concurrency)

	fmt.Println("---- results ----")
	printStats("issue", seedStats)
	printStats("refresh", refreshStats)
	printStats("replay", replayStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("reuse_detected=%d families_revoked=%d store_unavailable=%d\n",
		snap.Counters[goRotate.MetricRefreshReuseDetected],
		snap.Counters[goRotate.MetricFamilyRevoked],
		snap.Counters[goRotate.MetricStoreUnavailable],
	)
}

// runWorkers calls fn(i) for i in [0, ops) across concurrency goroutines and
// collects latencies. fn reports success.
func runWorkers(ops, concurrency int, fn func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := fn(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runIssuePhase(ctx context.Context, engine *goRotate.Engine, states []familyState, concurrency int) phaseStats {
	return runWorkers(len(states), concurrency, func(_ *rand.Rand, i int) bool {
		pair, err := engine.Issue(ctx, goRotate.Identity{
			Subject: fmt.Sprintf("user-%d", i%1000),
			Role:    jwt.RoleUser,
		})
		if err != nil {
			return false
		}
		states[i].refresh = pair.RefreshToken
		return true
	})
}

func runRefreshPhase(ctx context.Context, engine *goRotate.Engine, states []familyState, ops, concurrency int) phaseStats {
	return runWorkers(ops, concurrency, func(r *rand.Rand, _ int) bool {
		state := &states[r.Intn(len(states))]

		state.mu.Lock()
		defer state.mu.Unlock()
		if state.refresh == "" {
			return false
		}
		pair, err := engine.Refresh(ctx, state.refresh)
		if err != nil {
			return false
		}
		state.refresh = pair.RefreshToken
		return true
	})
}

// runReplayPhase presents each family's previous token after one rotation.
// A replay succeeds when it is rejected as reuse.
func runReplayPhase(ctx context.Context, engine *goRotate.Engine, states []familyState, replays, concurrency int) phaseStats {
	if replays > len(states) {
		replays = len(states)
	}
	if replays == 0 {
		return phaseStats{}
	}
	return runWorkers(replays, concurrency, func(_ *rand.Rand, i int) bool {
		state := &states[i]

		state.mu.Lock()
		defer state.mu.Unlock()
		old := state.refresh
		if old == "" {
			return false
		}
		if _, err := engine.Refresh(ctx, old); err != nil {
			return false
		}
		_, err := engine.Refresh(ctx, old)
		state.refresh = ""
		return errors.Is(err, goRotate.ErrTokenReuseDetected)
	})
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
