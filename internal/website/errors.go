package website

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled matches any error produced by a cancelled CancelToken.
var ErrCancelled = errors.New("submission cancelled")

// CancelledError is returned by CancelToken.ThrowIfCancelled.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCancelled.Error(), e.Reason)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// MissingDataError is returned when an account lacks the data an adapter needs.
type MissingDataError struct {
	Website string
	Keys    []string
}

func (e MissingDataError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s account not configured", e.Website)
	}
	return fmt.Sprintf("%s account not configured (missing %s)", e.Website, strings.Join(e.Keys, ", "))
}

// ValidationFailedError wraps a validation result that blocked a submission.
type ValidationFailedError struct {
	Website string
	Result  ValidationResult
}

func (e *ValidationFailedError) Error() string {
	ids := make([]string, 0, len(e.Result.Errors))
	for _, msg := range e.Result.Errors {
		ids = append(ids, msg.String())
	}
	return fmt.Sprintf("%s validation failed: %s", e.Website, strings.Join(ids, "; "))
}

// ResponseError captures a non-2xx or unparseable reply from a target site.
type ResponseError struct {
	URL        string
	StatusCode int
	Body       string
	Reason     string
}

func (e *ResponseError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unexpected response"
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.URL, reason)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.URL, reason, e.StatusCode)
}

// RegistrationError reports an invalid website definition.
type RegistrationError struct {
	Website string
	Reason  string
}

func (e RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %s", e.Website, e.Reason)
}
