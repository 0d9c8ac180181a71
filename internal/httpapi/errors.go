package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	goRotate "github.com/MrEthical07/goRotate"
)

// StatusClientClosedRequest is the non-standard code for a caller that went
// away before the response.
const StatusClientClosedRequest = 499

// APIError is the error body returned to clients. Code is stable and machine
// readable; Message never carries internal detail.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse is the root object of every error body.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

var errBadRequest = errors.New("bad request")

// ToHTTP maps an engine error to a status code and body. Reuse is checked
// before store faults because a reuse whose revocation failed carries both.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)
	return status, ErrorResponse{Error: APIError{Code: code, Message: msg}}
}

func classify(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"
	case errors.Is(err, errBadRequest), errors.Is(err, goRotate.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case errors.Is(err, goRotate.ErrTokenReuseDetected):
		return http.StatusUnauthorized, "token_reuse", "refresh token already used; session revoked"
	case errors.Is(err, goRotate.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "invalid token"
	case errors.Is(err, goRotate.ErrRefreshRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many refresh attempts"
	case errors.Is(err, goRotate.ErrStoreTimeout):
		return http.StatusServiceUnavailable, "store_timeout", "session store timed out"
	case errors.Is(err, goRotate.ErrStoreUnavailable), errors.Is(err, goRotate.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "unavailable", "service unavailable"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "request timed out"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

// WriteError writes the mapped status and body, echoing X-Request-Id.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	} else if rid := w.Header().Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
