// Package errors provides the protection error taxonomy and database error
// classification utilities.
package errors

import (
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
)

// Reason codes for protection denials. The API layer maps these to HTTP
// status codes; clients match on the reason, never on the message text.
const (
	ReasonValidationFailed = "VALIDATION_FAILED"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonBlocked          = "BLOCKED"
	ReasonQueueFull        = "QUEUE_FULL"
	ReasonOverloaded       = "OVERLOADED"
	ReasonQueueExpired     = "QUEUE_EXPIRED"
	ReasonCircuitOpen      = "CIRCUIT_OPEN"

	// ReasonStoreUnavailable is internal-only: store degradation is recovered
	// via the in-memory fallback and must never reach a client.
	ReasonStoreUnavailable = "STORE_UNAVAILABLE"
)

// MetaRetryAfter is the metadata key carrying the retry hint in seconds.
const MetaRetryAfter = "retry_after"

// ValidationError returns a 400 error for a request that failed structural
// validation. reasonCode identifies the failed check, field the offending
// request field.
func ValidationError(reasonCode, field string) *errors.Error {
	e := errors.New(400, ReasonValidationFailed, "request validation failed: "+reasonCode)
	return e.WithMetadata(map[string]string{
		"check": reasonCode,
		"field": field,
	})
}

// RateLimited returns a 429 error for a quota violation on the given scope,
// with a retry hint in seconds.
func RateLimited(scope string, retryAfter int64) *errors.Error {
	e := errors.New(429, ReasonRateLimited, "rate limit exceeded for scope "+scope)
	return e.WithMetadata(map[string]string{
		"scope":         scope,
		MetaRetryAfter: strconv.FormatInt(retryAfter, 10),
	})
}

// Blocked returns a 429 error for a temporarily banned identifier. Unlike a
// plain rate limit, the caller should not retry before the hint elapses.
func Blocked(retryAfter int64) *errors.Error {
	e := errors.New(429, ReasonBlocked, "identifier is temporarily blocked")
	return e.WithMetadata(map[string]string{
		MetaRetryAfter: strconv.FormatInt(retryAfter, 10),
	})
}

// QueueFull returns a 503 error for an enqueue attempt against a full queue.
func QueueFull() *errors.Error {
	return errors.New(503, ReasonQueueFull, "request queue is full")
}

// Overloaded returns a 503 error for a request shed by the backpressure
// manager while the system is over its load threshold.
func Overloaded() *errors.Error {
	return errors.New(503, ReasonOverloaded, "service is shedding load")
}

// QueueExpired returns a 503 error for a queued request whose deadline
// elapsed before it could be served.
func QueueExpired() *errors.Error {
	return errors.New(503, ReasonQueueExpired, "queued request expired before service")
}

// CircuitOpen returns a 503 error for a call rejected by an open circuit
// breaker, with a retry hint covering the remaining cool-down.
func CircuitOpen(service string, retryAfter int64) *errors.Error {
	e := errors.New(503, ReasonCircuitOpen, "circuit breaker open for "+service)
	return e.WithMetadata(map[string]string{
		"service":       service,
		MetaRetryAfter: strconv.FormatInt(retryAfter, 10),
	})
}

// StoreUnavailable wraps a shared-store failure. It is only ever logged or
// used to trigger the fallback path; propagation to a client is a bug.
func StoreUnavailable(cause error) *errors.Error {
	e := errors.New(500, ReasonStoreUnavailable, "shared counter store unavailable")
	if cause != nil {
		return e.WithCause(cause)
	}
	return e
}

// IsRateLimited reports whether err is a quota denial.
func IsRateLimited(err error) bool {
	return errors.Reason(err) == ReasonRateLimited
}

// IsBlocked reports whether err is a temporary-ban denial.
func IsBlocked(err error) bool {
	return errors.Reason(err) == ReasonBlocked
}

// IsCircuitOpen reports whether err is a fast-fail from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Reason(err) == ReasonCircuitOpen
}

// IsQueueFull reports whether err is a capacity rejection from the queue.
func IsQueueFull(err error) bool {
	return errors.Reason(err) == ReasonQueueFull
}

// IsOverloaded reports whether err is a backpressure shed.
func IsOverloaded(err error) bool {
	return errors.Reason(err) == ReasonOverloaded
}

// IsQueueExpired reports whether err is a deadline rejection from the queue.
func IsQueueExpired(err error) bool {
	return errors.Reason(err) == ReasonQueueExpired
}

// IsStoreUnavailable reports whether err is an internal store degradation.
func IsStoreUnavailable(err error) bool {
	return errors.Reason(err) == ReasonStoreUnavailable
}

// RetryAfterSeconds extracts the retry hint from a denial error.
// Returns 0 when the error carries no hint.
func RetryAfterSeconds(err error) int64 {
	ke := errors.FromError(err)
	if ke == nil {
		return 0
	}
	v, ok := ke.Metadata[MetaRetryAfter]
	if !ok {
		return 0
	}
	n, convErr := strconv.ParseInt(v, 10, 64)
	if convErr != nil {
		return 0
	}
	return n
}
