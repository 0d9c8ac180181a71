package rate

import "errors"

// ErrRateLimited means the family spent its refresh budget for the window.
var ErrRateLimited = errors.New("rate limited")

// ErrBackendUnavailable wraps failures of the shared counter backend. The
// in-process limiter never returns it.
var ErrBackendUnavailable = errors.New("rate limiter backend unavailable")
