package goRotate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goRotate/internal"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config   Config
	registry session.Registry
	redis    redis.UniversalClient

	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRegistry injects the session registry. Required.
func (b *Builder) WithRegistry(r session.Registry) *Builder {
	b.registry = r
	return b
}

// WithRedis makes refresh throttling shared across instances through Redis
// fixed windows. Without it throttling is per process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The codec logs verification failures on
// it at debug level.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for token issuance, verification and record
// timestamps. Meant for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.registry == nil {
		return nil, errors.New("session registry required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "gorotate"))

	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- TOKEN CODEC --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Logger:        log,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		registry:   withTimeout(b.registry, cfg.Registry.OperationTimeout),
		jwtManager: jm,
		tokenIDs:   internal.NewTokenIDs(),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink, log),
		metrics:    NewMetrics(cfg.Metrics),
		log:        log,
		now:        now,
	}

	// -------- REFRESH THROTTLE --------
	if cfg.Rotation.EnableRefreshThrottle {
		rc := rate.Config{
			MaxAttempts: cfg.Rotation.MaxRefreshAttempts,
			Window:      cfg.Rotation.RefreshWindow,
		}
		if b.redis != nil {
			engine.rateLimiter = rate.New(b.redis, rc)
		} else {
			engine.rateLimiter = rate.NewLocal(rc)
		}
	}

	engine.flowDeps = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	issue := flows.IssueDeps{
		IssueAccess:  e.jwtManager.IssueAccess,
		IssueRefresh: e.jwtManager.IssueRefresh,
		NewFamilyID: func() (string, error) {
			fid, err := internal.NewFamilyID()
			if err != nil {
				return "", err
			}
			return fid.String(), nil
		},
		NextTokenID: e.tokenIDs.Next,
		Now:         func() time.Time { return e.now() },
		Registry:    e.registry,
	}

	return flows.Deps{
		Issue: issue,
		Refresh: flows.RefreshDeps{
			VerifyRefresh: e.jwtManager.VerifyRefresh,
			RateLimiter:   e.rateLimiter,
			Registry:      e.registry,
			Issue:         issue,
			Warn:          e.log.Warn,
		},
		Logout: flows.LogoutDeps{
			VerifyRefresh: e.jwtManager.VerifyRefresh,
			Registry:      e.registry,
		},
		Introspection: flows.IntrospectionDeps{
			Registry:          e.registry,
			EngineNotReadyErr: ErrEngineNotReady,
		},
	}
}
