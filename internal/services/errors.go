package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks failures that require operator action
	// (missing credentials, unset endpoints). Terminal.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing records or assets. Terminal.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks network and server failures worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrValidation marks output that failed quality checks. Terminal for
	// the current run; completed work stays resumable.
	ErrValidation = errors.New("validation error")
	// ErrCancelled marks user-initiated stops. Not a fault.
	ErrCancelled = errors.New("cancelled")
	// ErrBadRequest marks requests the remote service rejected outright.
	// Retrying the same payload elsewhere will not help.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized marks credential failures. The same credential will
	// fail against every endpoint.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited marks throttling responses. Retryable after backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrConflict marks optimistic-concurrency write conflicts.
	ErrConflict = errors.New("write conflict")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the failure is worth another attempt, either
// immediately (transient) or after backoff (rate limited).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConflict)
}

// IsTerminal reports whether retrying without operator or user action is
// pointless.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrUnauthorized)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
