// Package llm provides language-model clients and the credential rotation
// that keeps generation alive across per-key rate limits. Providers return
// plain text; callers own prompting and parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Credential is one API key in the rotation ring. Label identifies the key
// in logs and the status endpoint; the key itself never leaves this package.
type Credential struct {
	Label string
	Key   string
}

// Generator produces a completion for a prompt using one credential.
// Implementations must not retry or rotate internally.
type Generator interface {
	Generate(ctx context.Context, prompt string, cred Credential) (string, error)
}

// Failure classifies a provider error for the rotation policy.
type Failure int

const (
	// FailureQuotaExhausted means the credential hit its rate or quota
	// limit. The next credential may still work.
	FailureQuotaExhausted Failure = iota

	// FailureAuthInvalid means the credential was rejected outright.
	FailureAuthInvalid

	// FailureTransient covers timeouts and 5xx. Another credential would
	// hit the same backend, so rotation does not help.
	FailureTransient

	// FailureOther is everything else, including malformed responses.
	FailureOther
)

func (f Failure) String() string {
	switch f {
	case FailureQuotaExhausted:
		return "quota_exhausted"
	case FailureAuthInvalid:
		return "auth_invalid"
	case FailureTransient:
		return "transient"
	default:
		return "other"
	}
}

// HTTPStatusError carries the provider's HTTP status so Classify can decide
// without parsing message text.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("provider status %d: %s", e.Status, body)
}

// Classify maps a provider error onto the rotation policy's failure classes.
// Status codes win; message sniffing is the fallback for providers that bury
// quota errors inside 400s.
func Classify(err error) Failure {
	if err == nil {
		return FailureOther
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == 429:
			return FailureQuotaExhausted
		case statusErr.Status == 401 || statusErr.Status == 403:
			return FailureAuthInvalid
		case statusErr.Status >= 500:
			return FailureTransient
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "rate") && strings.Contains(msg, "limit"):
		return FailureQuotaExhausted
	case strings.Contains(msg, "api key not valid") || strings.Contains(msg, "unauthorized"):
		return FailureAuthInvalid
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "unavailable"):
		return FailureTransient
	}
	return FailureOther
}

// Rotates reports whether a failure class should advance the ring.
func (f Failure) Rotates() bool {
	return f == FailureQuotaExhausted || f == FailureAuthInvalid
}
