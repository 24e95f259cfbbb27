package oracle

import (
	"errors"
	"fmt"
)

// Category is the only upstream failure detail allowed to cross the
// adapter boundary. Raw upstream error text stays inside this package.
type Category string

const (
	CategoryInvalidCredential Category = "invalid_credential"
	CategoryRateLimited       Category = "rate_limited"
	CategoryUnavailable       Category = "upstream_unavailable"
	CategoryTimedOut          Category = "timed_out"
	CategoryUpstreamError     Category = "upstream_error"
)

// UpstreamError is a communication failure with the extraction service,
// raised after retries are exhausted or on a terminal condition.
type UpstreamError struct {
	Category Category
	Attempts int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("oracle upstream failure: %s (attempts=%d)", e.Category, e.Attempts)
}

// MalformedOutputError means the oracle answered, but the content was
// not a single JSON object. Distinct from UpstreamError and never
// retried: the call itself succeeded.
type MalformedOutputError struct {
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return "oracle returned malformed output: " + e.Reason
}

// IsUpstream reports whether err is an upstream communication failure
// and returns its category.
func IsUpstream(err error) (Category, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Category, true
	}
	return "", false
}

// IsMalformedOutput reports whether err is a malformed-output failure.
func IsMalformedOutput(err error) bool {
	var me *MalformedOutputError
	return errors.As(err, &me)
}
