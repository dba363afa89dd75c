package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrOrderNotFound is returned by PollOrderStatus when the venue has no
// record of the order. After a submission timeout this is the signal that a
// retry is safe.
var ErrOrderNotFound = errors.New("exchange: order not found")

// TransportError covers network-level failures. Timeout marks the ambiguous
// case where the request may or may not have reached the venue.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("exchange %s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("exchange %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the session credentials were refused. Fatal until the
// operator refreshes them.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "exchange auth: " + e.Msg }

// RateLimitError asks the caller to back off and requeue.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange rate limit: retry after %v", e.RetryAfter)
}

// RejectionError is an order-specific refusal (insufficient balance, bad
// price filter). Terminal for that order only.
type RejectionError struct {
	Code string
	Msg  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejection %s: %s", e.Code, e.Msg)
}

// IsTimeout reports whether err is an ambiguous transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}

// IsTransport reports whether err is any transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimit reports whether err is a venue rate-limit response.
func IsRateLimit(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsRejection reports whether err is an order-specific refusal.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
