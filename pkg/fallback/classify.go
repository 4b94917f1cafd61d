package fallback

import (
	"fmt"
	"strings"
)

// ErrorKind is the normalized category of a backend failure.
type ErrorKind string

const (
	KindAuth            ErrorKind = "auth"
	KindRateLimit       ErrorKind = "rate-limit"
	KindTimeout         ErrorKind = "timeout"
	KindContextOverflow ErrorKind = "context-overflow"
	KindBilling         ErrorKind = "billing"
	KindUnknown         ErrorKind = "unknown"
)

// ClassifiedError is a raw backend failure normalized into {kind,
// retryable}. Retryable drives the fallback loop: non-retryable kinds
// recur on any backend, so trying another one is pointless.
type ClassifiedError struct {
	Kind       ErrorKind
	Message    string
	Retryable  bool
	ProviderID string
	cause      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.ProviderID, e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// Classify derives a ClassifiedError from a raw error's text,
// deterministically and statelessly. Categories overlap, so matching
// runs in fixed priority order and the first match wins: auth before
// rate-limit before timeout before context-overflow before billing,
// with unknown (retryable) as the default.
func Classify(err error, providerID string) *ClassifiedError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	ce := &ClassifiedError{
		Message:    msg,
		ProviderID: providerID,
		cause:      err,
	}

	switch {
	case containsAny(lower, "401", "unauthorized", "invalid api key", "authentication"):
		ce.Kind = KindAuth
		ce.Retryable = false
	case containsAny(lower, "429", "rate limit", "too many requests"):
		ce.Kind = KindRateLimit
		ce.Retryable = true
	case containsAny(lower, "timeout", "etimedout", "econnreset"):
		ce.Kind = KindTimeout
		ce.Retryable = true
	case strings.Contains(lower, "context") &&
		(strings.Contains(lower, "too long") || strings.Contains(lower, "maximum")):
		ce.Kind = KindContextOverflow
		ce.Retryable = false
	case containsAny(lower, "quota", "billing", "insufficient", "exceeded"):
		ce.Kind = KindBilling
		ce.Retryable = true
	default:
		ce.Kind = KindUnknown
		ce.Retryable = true
	}

	return ce
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
