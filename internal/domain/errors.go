package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the engine. Callers match with errors.Is.
var (
	ErrNotConnected    = errors.New("transport not connected")
	ErrTimeout         = errors.New("command timed out")
	ErrSessionNotFound = errors.New("session not found")
	ErrSendInFlight    = errors.New("a send is already in flight")
	ErrClosed          = errors.New("processor closed")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrCommandRejected = errors.New("command rejected by runner")
)

// DomainError wraps an error with the operation that produced it.
type DomainError struct {
	Op     string
	Err    error
	Detail string
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// WrapOp attaches an operation name to err, preserving nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DomainError{Op: op, Err: err}
}

// WrapOpDetail is WrapOp with a free-form detail string.
func WrapOpDetail(op string, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// SessionNotFoundText reports whether a server-reported error string is
// the session-not-found class. Runners phrase it inconsistently so this
// matches by substring.
func SessionNotFoundText(msg string) bool {
	m := strings.ToLower(msg)
	for _, needle := range []string{"session not found", "unknown session", "no such session", "session does not exist"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}
