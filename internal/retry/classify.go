package retry

import (
	"errors"
	"net/http"
	"strings"
)

// Class decides what happens after a failed attempt.
type Class int

const (
	Retryable Class = iota
	NonRetryable
	Critical
)

func (c Class) String() string {
	switch c {
	case NonRetryable:
		return "non_retryable"
	case Critical:
		return "critical"
	default:
		return "retryable"
	}
}

// Severity ranks an error record for operators.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var (
	// ErrBudgetExceeded is returned for costly work while spending is paused.
	ErrBudgetExceeded = errors.New("budget exceeded")
	ErrCircuitOpen    = errors.New("circuit breaker open")
)

// HTTPStatuser is implemented by collaborator errors that carry a status code.
type HTTPStatuser interface {
	HTTPStatus() int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify is the default failure classifier. Authentication and budget
// failures are critical, malformed requests are not retried, and everything
// else (timeouts, resets, 429, 5xx, unknown) is retried.
func Classify(err error) Class {
	if err == nil {
		return Retryable
	}
	if errors.Is(err, ErrBudgetExceeded) || isAuthFailure(err) {
		return Critical
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return NonRetryable
	}

	if code, ok := statusOf(err); ok {
		switch code {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return NonRetryable
		}
	}
	return Retryable
}

// SeverityFor rates a failure by what failed and why.
func SeverityFor(op Operation, err error) Severity {
	if errors.Is(err, ErrBudgetExceeded) || isAuthFailure(err) {
		return SeverityCritical
	}
	if op == nil {
		return SeverityLow
	}
	switch op.Kind() {
	case KindRewrite, KindUpload:
		return SeverityHigh
	case KindNotify:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func statusOf(err error) (int, bool) {
	var hs HTTPStatuser
	if errors.As(err, &hs) {
		return hs.HTTPStatus(), true
	}
	return 0, false
}

func isAuthFailure(err error) bool {
	if code, ok := statusOf(err); ok {
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key")
}
