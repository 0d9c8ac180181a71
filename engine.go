package goRotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goRotate/internal"
	internalaudit "github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/internal/logctx"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/session"
)

// Engine issues and rotates token pairs against an injected session registry.
// It is safe for concurrent use once built.
type Engine struct {
	config      Config
	registry    session.Registry
	jwtManager  *jwt.Manager
	rateLimiter flows.RefreshRateLimiter
	tokenIDs    *internal.TokenIDs
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	log         *slog.Logger
	now         func() time.Time
	flowDeps    flows.Deps
}

// Close flushes pending audit events. The registry is owned by the caller and
// is not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events that never reached the sink because the
// buffer was full or the caller gave up waiting.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// SweepInterval is the configured maintenance period for [Engine.SweepExpired].
func (e *Engine) SweepInterval() time.Duration {
	if e == nil {
		return 0
	}
	return e.config.Registry.SweepInterval
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Add(id, n)
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	if l, ok := logctx.Lookup(ctx); ok {
		return l
	}
	return e.log
}

// storeFailure counts and logs a registry fault and returns it wrapped in
// ErrStoreUnavailable.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	err = storeError(err)
	e.metricInc(MetricStoreUnavailable)
	if errors.Is(err, ErrStoreTimeout) {
		e.metricInc(MetricStoreTimeout)
	}
	e.logger(ctx).Error("session registry failure", slog.String("op", op), slog.String("error", err.Error()))
	return err
}

func toTokenPair(p flows.Pair) *TokenPair {
	return &TokenPair{
		AccessToken:           p.AccessToken,
		AccessTokenExpiresAt:  p.AccessExpiresAt,
		RefreshToken:          p.RefreshToken,
		RefreshTokenExpiresAt: p.RefreshExpiresAt,
		Family:                p.Family,
	}
}

// Issue starts a new token family for id and returns its first pair. Call it
// after an upstream login (password or federated) has verified id.
func (e *Engine) Issue(ctx context.Context, id Identity) (*TokenPair, error) {
	if e == nil || e.registry == nil {
		return nil, ErrEngineNotReady
	}

	res := flows.RunIssue(ctx, id, e.flowDeps.Issue)
	if res.Failure != flows.IssueFailureNone {
		e.metricInc(MetricIssueFailure)
		err := e.issueError(ctx, "issue", res.Failure, res.Err)
		e.emitAudit(ctx, auditEventIssueFailure, false, res.Subject, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventIssueSuccess, true, res.Subject, res.Pair.Family, res.Pair.TokenID, nil, nil)

	return toTokenPair(res.Pair), nil
}

func (e *Engine) issueError(ctx context.Context, op string, kind flows.IssueFailureKind, err error) error {
	switch kind {
	case flows.IssueFailureIdentity:
		return ErrInvalidIdentity
	case flows.IssueFailureRegister:
		if errors.Is(err, session.ErrInvalidRecord) || errors.Is(err, session.ErrDuplicateToken) {
			return fmt.Errorf("%s: register: %w", op, err)
		}
		return e.storeFailure(ctx, op+".register", err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Refresh exchanges a refresh token for a new pair in the same family.
//
// Failures:
//   - [ErrInvalidToken]: the token does not verify, or its claims disagree
//     with the tracked record. Nothing changes.
//   - [ErrRefreshRateLimited]: the family exceeded its refresh budget.
//   - [ErrTokenReuseDetected]: the token is no longer tracked. When the lookup
//     missed, the whole family has been revoked; if that revocation failed the
//     error also wraps [ErrStoreUnavailable].
//   - [ErrStoreUnavailable] (and [ErrStoreTimeout] on deadline): the registry
//     could not answer. No revocation happens.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.registry == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	res := flows.RunRefresh(ctx, refreshToken, e.flowDeps.Refresh)

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricRefreshLatency, time.Since(start))
		}
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Subject, res.Family, res.Pair.TokenID, nil, func() map[string]string {
			return map[string]string{
				"consumed": res.TokenID,
			}
		})
		return toTokenPair(res.Pair), nil

	case flows.RefreshFailureDecode:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshInvalidToken)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrInvalidToken, func() map[string]string {
			return map[string]string{
				"reason": "verify_failed",
			}
		})
		return nil, ErrInvalidToken

	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshFailure)
		if errors.Is(res.Err, rate.ErrBackendUnavailable) {
			err := e.storeFailure(ctx, "refresh.throttle", res.Err)
			e.emitAudit(ctx, auditEventRefreshStoreFailure, false, res.Subject, res.Family, res.TokenID, err, nil)
			return nil, err
		}
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, res.Subject, res.Family, res.TokenID, ErrRefreshRateLimited, nil)
		return nil, ErrRefreshRateLimited

	case flows.RefreshFailureLookup, flows.RefreshFailureRotate:
		e.metricInc(MetricRefreshFailure)
		op := "refresh.lookup"
		if res.Failure == flows.RefreshFailureRotate {
			op = "refresh.rotate"
		}
		err := e.storeFailure(ctx, op, res.Err)
		e.emitAudit(ctx, auditEventRefreshStoreFailure, false, res.Subject, res.Family, res.TokenID, err, nil)
		return nil, err

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		err := ErrTokenReuseDetected
		if res.RevokeErr != nil {
			err = errors.Join(ErrTokenReuseDetected, e.storeFailure(ctx, "refresh.revoke_family", res.RevokeErr))
		} else {
			e.metricInc(MetricFamilyRevoked)
			e.metricAdd(MetricTokensRevoked, res.Revoked)
		}
		e.logger(ctx).Warn("refresh token reuse detected",
			slog.String("subject", res.Subject),
			slog.String("family", res.Family),
			slog.Int("revoked", res.Revoked),
		)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.Subject, res.Family, res.TokenID, err, func() map[string]string {
			return map[string]string{
				"revoked": strconv.Itoa(res.Revoked),
			}
		})
		return nil, err

	case flows.RefreshFailureRaceLost:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshRaceLost)
		e.emitAudit(ctx, auditEventRefreshRaceLost, false, res.Subject, res.Family, res.TokenID, ErrTokenReuseDetected, nil)
		return nil, ErrTokenReuseDetected

	case flows.RefreshFailureMismatch:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshInvalidToken)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.Subject, res.Family, res.TokenID, ErrInvalidToken, func() map[string]string {
			return map[string]string{
				"reason": "record_mismatch",
			}
		})
		return nil, ErrInvalidToken

	default:
		e.metricInc(MetricRefreshFailure)
		err := e.issueError(ctx, "refresh", res.Issue, res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.Subject, res.Family, res.TokenID, err, func() map[string]string {
			return map[string]string{
				"reason": "issue_failed",
			}
		})
		return nil, err
	}
}

// Logout revokes the family of the session that owns refreshToken.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}

	res := flows.RunLogout(ctx, refreshToken, e.flowDeps.Logout)
	if res.Decode {
		e.metricInc(MetricVerifyFailure)
		return ErrInvalidToken
	}
	if res.Err != nil {
		err := e.storeFailure(ctx, "logout", res.Err)
		e.emitAudit(ctx, auditEventLogoutSession, false, res.Subject, res.Family, "", err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricFamilyRevoked)
	e.metricAdd(MetricTokensRevoked, res.Revoked)
	e.emitAudit(ctx, auditEventLogoutSession, true, res.Subject, res.Family, "", nil, func() map[string]string {
		return map[string]string{
			"revoked": strconv.Itoa(res.Revoked),
		}
	})
	return nil
}

// RevokeAllForSubject revokes every family currently linked to subject and
// returns how many records were newly revoked. When some families fail, the
// others are still revoked and the error wraps [ErrStoreUnavailable].
func (e *Engine) RevokeAllForSubject(ctx context.Context, subject string) (int, error) {
	if e == nil || e.registry == nil {
		return 0, ErrEngineNotReady
	}
	if subject == "" {
		return 0, ErrInvalidIdentity
	}

	res := flows.RunRevokeAll(ctx, subject, e.flowDeps.Logout)
	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricTokensRevoked, res.Revoked)

	var err error
	if res.Err != nil {
		err = e.storeFailure(ctx, "revoke_all", res.Err)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, subject, "", "", err, func() map[string]string {
		return map[string]string{
			"families": strconv.Itoa(res.Families),
			"revoked":  strconv.Itoa(res.Revoked),
		}
	})
	if err == nil {
		e.metricAdd(MetricFamilyRevoked, res.Families)
	}

	return res.Revoked, err
}

// RevokeFamily revokes one family by id. Used by operators.
func (e *Engine) RevokeFamily(ctx context.Context, family string) (int, error) {
	if e == nil || e.registry == nil {
		return 0, ErrEngineNotReady
	}
	if _, err := internal.ParseFamilyID(family); err != nil {
		return 0, fmt.Errorf("%w: malformed family id", ErrInvalidToken)
	}

	n, err := e.registry.RevokeFamily(ctx, family)
	if err != nil {
		err = e.storeFailure(ctx, "revoke_family", err)
		e.emitAudit(ctx, auditEventFamilyRevoked, false, "", family, "", err, nil)
		return 0, err
	}

	e.metricInc(MetricFamilyRevoked)
	e.metricAdd(MetricTokensRevoked, n)
	e.emitAudit(ctx, auditEventFamilyRevoked, true, "", family, "", nil, func() map[string]string {
		return map[string]string{
			"revoked": strconv.Itoa(n),
		}
	})
	return n, nil
}

// Verify returns the decoded claims of an access or refresh token, or nil.
// It never touches the registry.
func (e *Engine) Verify(token string) jwt.Claims {
	if e == nil || e.jwtManager == nil {
		return nil
	}
	claims := e.jwtManager.Verify(token)
	if claims == nil {
		e.metricInc(MetricVerifyFailure)
	}
	return claims
}

// VerifyAccess verifies an access token. Every failure wraps [ErrInvalidToken].
func (e *Engine) VerifyAccess(_ context.Context, token string) (*jwt.AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.VerifyAccess(token)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}
	return claims, nil
}

// Stats reports total and active tracked records. Read-only.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if e == nil {
		return Stats{}, ErrEngineNotReady
	}
	s, err := flows.RunStats(ctx, e.flowDeps.Introspection)
	if err != nil {
		if errors.Is(err, ErrEngineNotReady) {
			return Stats{}, err
		}
		return Stats{}, e.storeFailure(ctx, "stats", err)
	}
	return Stats{TotalTokens: s.Total, ActiveTokens: s.Active}, nil
}

// SweepExpired deletes expired records and returns how many were removed.
// Host processes call it every [Engine.SweepInterval].
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := flows.RunSweep(ctx, e.flowDeps.Introspection)
	if err != nil {
		if errors.Is(err, ErrEngineNotReady) {
			return 0, err
		}
		return n, e.storeFailure(ctx, "sweep", err)
	}

	e.metricAdd(MetricSweepRemoved, n)
	if n > 0 {
		e.emitAudit(ctx, auditEventSweep, true, "", "", "", nil, func() map[string]string {
			return map[string]string{
				"removed": strconv.Itoa(n),
			}
		})
	}
	return n, nil
}

// Health pings the registry.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil {
		return HealthStatus{Error: ErrEngineNotReady.Error()}
	}
	res := flows.RunHealth(ctx, e.flowDeps.Introspection)
	status := HealthStatus{Available: res.Available, Latency: res.Latency}
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, ErrEngineNotReady):
		status.Error = res.Err.Error()
	default:
		status.Error = storeError(res.Err).Error()
	}
	return status
}
