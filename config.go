package goRotate

import (
	"errors"
	"strings"
	"time"
)

// Config holds every engine setting. It is cloned by [Builder.WithConfig] and
// never mutated after [Builder.Build].
type Config struct {
	JWT      JWTConfig
	Registry RegistryConfig
	Rotation RotationConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token codec.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is stamped into the "kid" header. VerifyKeys maps kid to Ed25519
	// public key so tokens signed by retired keys keep verifying.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
REGISTRY CONFIG
====================================
*/

// RegistryConfig bounds session registry calls.
type RegistryConfig struct {
	// OperationTimeout caps every registry call. Zero disables the cap.
	OperationTimeout time.Duration
	// SweepInterval is how often a host process should call
	// [Engine.SweepExpired]. The engine itself runs no timer.
	SweepInterval time.Duration
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig tunes the refresh exchange.
type RotationConfig struct {
	EnableRefreshThrottle bool
	// MaxRefreshAttempts refreshes are allowed per family within RefreshWindow.
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a config with every field but the signing keys set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
		},
		Registry: RegistryConfig{
			OperationTimeout: 2 * time.Second,
			SweepInterval:    time.Hour,
		},
		Rotation: RotationConfig{
			EnableRefreshThrottle: false,
			MaxRefreshAttempts:    20,
			RefreshWindow:         time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting. Signing key checks beyond
// presence are left to the codec.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}

	// Registry
	if c.Registry.OperationTimeout < 0 {
		return errors.New("Registry OperationTimeout must be >= 0")
	}
	if c.Registry.SweepInterval < 0 {
		return errors.New("Registry SweepInterval must be >= 0")
	}

	// Rotation
	if c.Rotation.EnableRefreshThrottle {
		if c.Rotation.MaxRefreshAttempts <= 0 {
			return errors.New("Rotation MaxRefreshAttempts must be > 0 when throttling is enabled")
		}
		if c.Rotation.RefreshWindow <= 0 {
			return errors.New("Rotation RefreshWindow must be > 0 when throttling is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
