package goRotate

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/goRotate/internal/audit"
)

const (
	auditEventIssueSuccess         = "issue_success"
	auditEventIssueFailure         = "issue_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventRefreshRaceLost      = "refresh_race_lost"
	auditEventRefreshStoreFailure  = "refresh_store_failure"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventFamilyRevoked        = "family_revoked"
	auditEventSweep                = "sweep_expired"
)

// AuditErrorCode is the stable error label stored in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrInvalidIdentity AuditErrorCode = "invalid_identity"
	auditErrRefreshReuse    AuditErrorCode = "refresh_reuse"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrStoreTimeout    AuditErrorCode = "store_timeout"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	family string,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var extra map[string]string
	if metadataBuilder != nil {
		extra = metadataBuilder()
	}
	metadata := auditMetadata(ctx, extra)

	event := internalaudit.NewEvent(eventType, e.now())
	event.Subject = subject
	event.Family = family
	event.TokenID = tokenID
	event.Success = success
	event.Metadata = metadata
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode checks reuse before store faults: a reuse whose revocation
// failed carries both.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenReuseDetected):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidIdentity):
		return auditErrInvalidIdentity
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreTimeout):
		return auditErrStoreTimeout
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
