package sender

import (
	"errors"
	"fmt"
	"time"
)

// Auth marks an error as an authentication/authorization failure.
//
// The dispatcher treats these as fatal for the whole campaign: retrying a
// dead credential per-recipient would just burn quota.
//
// Example:
//
//	return Result{}, sender.Auth(fmt.Errorf("mail api: status %d", res.StatusCode))
func Auth(err error) error {
	if err == nil {
		return nil
	}
	return authError{err: err}
}

// IsAuth reports whether err is wrapped with Auth.
func IsAuth(err error) bool {
	var e authError
	return errors.As(err, &e)
}

type authError struct{ err error }

func (e authError) Error() string { return fmt.Sprintf("auth: %v", e.err) }
func (e authError) Unwrap() error { return e.err }

// RetryAfter provides a suggested delay before retrying.
//
// This is useful when the downstream system returns a Retry-After value
// (e.g., HTTP 429). The dispatcher respects the hint, bounded by its own
// backoff cap.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
