// Command rotated serves refresh token rotation over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/internal/config"
	"github.com/MrEthical07/goRotate/internal/httpapi"
	exportprom "github.com/MrEthical07/goRotate/metrics/export/prometheus"
	"github.com/MrEthical07/goRotate/session"
	"github.com/MrEthical07/goRotate/session/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting rotated", "env", cfg.Env, "registry", cfg.Registry.Backend)

	if err := run(cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("service_stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	backend, err := openRegistry(rootCtx, cfg.Registry)
	if err != nil {
		return err
	}
	defer backend.close()
	log.Info("registry_connected", slog.String("backend", cfg.Registry.Backend))

	builder := goRotate.New().
		WithConfig(engineConfig(cfg)).
		WithRegistry(backend.registry).
		WithLogger(log).
		WithAuditSink(goRotate.NewSlogSink(log))
	if backend.redis != nil {
		builder = builder.WithRedis(backend.redis)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		exportprom.NewPrometheusExporter(engine),
	)

	handler := httpapi.NewRouter(engine, httpapi.Options{
		Logger:      log,
		Timeout:     cfg.Timeouts.Request,
		UpstreamKey: cfg.Upstream.Key,
		Cookie: httpapi.CookieOptions{
			Name:   cfg.Cookie.Name,
			Path:   cfg.Cookie.Path,
			Secure: cfg.Cookie.Secure,
		},
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics: httpapi.NewHTTPMetrics(reg),
	})

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", httpAddr, err)
	}
	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	startSweeper(rootCtx, engine, log, engine.SweepInterval())

	var serveErr error
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

func engineConfig(cfg *config.Config) goRotate.Config {
	out := goRotate.DefaultConfig()
	out.JWT.PrivateKey = []byte(cfg.JWT.Secret)
	out.JWT.AccessTTL = cfg.JWT.AccessTTL
	out.JWT.RefreshTTL = cfg.JWT.RefreshTTL
	out.JWT.Issuer = cfg.JWT.Issuer
	out.JWT.Audience = cfg.JWT.Audience
	out.JWT.Leeway = cfg.JWT.Leeway

	out.Registry.OperationTimeout = cfg.Registry.OperationTimeout
	out.Registry.SweepInterval = cfg.Registry.SweepInterval

	out.Rotation.EnableRefreshThrottle = cfg.Rotation.Throttle
	out.Rotation.MaxRefreshAttempts = cfg.Rotation.MaxAttempts
	out.Rotation.RefreshWindow = cfg.Rotation.Window

	out.Audit.Enabled = true
	out.Metrics.Enabled = true
	out.Metrics.EnableLatencyHistograms = true
	return out
}

type registryBackend struct {
	registry session.Registry
	redis    redis.UniversalClient
	close    func()
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig) (*registryBackend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &registryBackend{
			registry: session.NewStore(client, cfg.RedisPrefix),
			redis:    client,
			close:    func() { _ = client.Close() },
		}, nil

	case config.BackendPostgres:
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := postgres.New(dbCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(dbCtx); err != nil {
			store.Close()
			return nil, err
		}
		return &registryBackend{registry: store, close: store.Close}, nil

	default:
		return &registryBackend{registry: session.NewMemoryStore(), close: func() {}}, nil
	}
}

// startSweeper removes expired records every period until ctx is done.
func startSweeper(ctx context.Context, engine *goRotate.Engine, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := engine.SweepExpired(ctx)
				if err != nil {
					log.Error("sweep_failed", slog.String("err", err.Error()))
					continue
				}
				log.Debug("sweep_done", slog.Int("removed", n))
			}
		}
	}()
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
