package collectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes collector failures so the orchestrator can apply
// generic policy (retry, surface to operator, treat as caller bug) without
// inspecting source-specific detail.
type ErrorKind string

const (
	ErrorKindIo             ErrorKind = "io"
	ErrorKindConfig         ErrorKind = "config"
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindPermission     ErrorKind = "permission"
	ErrorKindAlreadyRunning ErrorKind = "already_running"
	ErrorKindNotRunning     ErrorKind = "not_running"
	ErrorKindParse          ErrorKind = "parse"
	ErrorKindSystem         ErrorKind = "system"
	ErrorKindWindowsAPI     ErrorKind = "windows_api"
	ErrorKindOther          ErrorKind = "other"
)

// CollectorError is the uniform failure type shared by all collectors.
type CollectorError struct {
	Kind      ErrorKind
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *CollectorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *CollectorError) Unwrap() error {
	return e.Cause
}

// NewError creates a collector error of the given kind, optionally wrapping
// a lower-level cause.
func NewError(kind ErrorKind, message string, cause error) *CollectorError {
	return &CollectorError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// KindOf extracts the error kind from err. Errors that are not a
// CollectorError anywhere in their chain classify as ErrorKindOther.
func KindOf(err error) ErrorKind {
	var ce *CollectorError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindOther
}

// IsMisuse reports whether err is a caller error (AlreadyRunning or
// NotRunning). Misuse errors never change collector state.
func IsMisuse(err error) bool {
	switch KindOf(err) {
	case ErrorKindAlreadyRunning, ErrorKindNotRunning:
		return true
	}
	return false
}

// IsRetryable reports whether the operation that produced err may reasonably
// be retried by the orchestrator.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindIo, ErrorKindNetwork, ErrorKindSystem:
		return true
	}
	return false
}
