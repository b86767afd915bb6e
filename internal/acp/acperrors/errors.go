// Package acperrors defines the stable error taxonomy surfaced by the ACP
// session orchestrator, so hosts can match on error kind rather than on
// message text.
package acperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the orchestrator's stable error categories.
type Kind string

// ToolErrorTag is the error-kind tag attached to every tool-surface failure
// (spec.md §6/§7), distinct from the internal Kind taxonomy above.
const ToolErrorTag = "acp_error"

const (
	ConfigInvalid   Kind = "config_invalid"
	UnknownAgent    Kind = "unknown_agent"
	SpawnError      Kind = "spawn_error"
	HandshakeError  Kind = "handshake_error"
	IoError         Kind = "io_error"
	ConnectionClose Kind = "connection_closed"
	AgentErr        Kind = "agent_error"
	TimeoutErr      Kind = "timeout"
	NotFound        Kind = "not_found"
	SessionEnded    Kind = "session_ended"
	NoAgentSession  Kind = "no_agent_session"
)

// Error is the concrete error type returned by every ACP operation that can
// fail in a way the host is expected to match on.
type Error struct {
	Kind     Kind
	Message  string
	Code     int           // populated for AgentErr
	Method   string        // populated for TimeoutErr
	Duration time.Duration // populated for TimeoutErr
	Cause    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case AgentErr:
		return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
	case TimeoutErr:
		return fmt.Sprintf("timeout after %s waiting for %s", e.Duration, e.Method)
	default:
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target names the same Kind, so callers can write
// errors.Is(err, acperrors.New(acperrors.NotFound, "")) style checks against
// a sentinel built with New(kind, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds a plain Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a plain Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewAgentError builds an AgentErr from a JSON-RPC error object.
func NewAgentError(code int, message string) *Error {
	return &Error{Kind: AgentErr, Code: code, Message: message}
}

// NewTimeout builds a TimeoutErr for the given method and elapsed duration.
func NewTimeout(method string, d time.Duration) *Error {
	return &Error{Kind: TimeoutErr, Method: method, Duration: d}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
