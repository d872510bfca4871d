package hub

import "errors"

// Classified upstream failures. Auth errors abort the whole batch; request
// and rate-limit errors are retried per tile; bad requests are not retried.
var (
	ErrAuth        = errors.New("hub: authentication failed")
	ErrBadRequest  = errors.New("hub: upstream rejected the request")
	ErrNotFound    = errors.New("hub: resource not found")
	ErrRateLimited = errors.New("hub: rate limited by upstream")
	ErrServer      = errors.New("hub: upstream server error")
)

// Retryable reports whether a request that failed with err is worth retrying.
// Authentication and malformed-request failures are permanent.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrBadRequest), errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}
