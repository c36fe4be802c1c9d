// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"forgechat/internal/adapter/tui/theme"
	"forgechat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display in the transcript.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(theme.ErrorLabel.Render(theme.SymbolError + " " + fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinel errors (checked first so errors.Is works through wrapping).
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrNotConnected) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Not Connected",
				Message: "The runner connection is down; the client is reconnecting.",
				Hints:   []string{"Wait for the status bar to show the connection as up", "Check that the runner is reachable at the configured URL"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrSendInFlight) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Prompt Already In Flight",
				Message: "A prompt is still being delivered to the runner.",
				Hints:   []string{"Wait for the current send to finish", "Use plain text while the agent works to steer the turn instead"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrSessionNotFound) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Session Lost",
				Message: "The runner no longer knows this session. Recovery runs automatically.",
				Hints:   []string{"Retry the last action once the session is restored", "Use /refresh to re-sync the transcript"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrCommandRejected) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Command Rejected",
				Message: "The runner refused the command.",
				Hints:   []string{"Check the command arguments", "The runner log may explain the rejection"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrTimeout) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Command Timed Out",
				Message: "The runner did not answer in time.",
				Hints:   []string{"Try again", "Increase runner.call_timeout in config"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrClosed) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Session Engine Stopped",
				Message: "The session engine has shut down.",
				Hints:   []string{"Restart forgechat"},
				Raw:     err.Error(),
			}
		},
	},

	// Network / connectivity patterns (string matching for external errors).
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the runner.", []string{"Check that the runner is started", "Verify runner.url in config", "Check if a firewall is blocking the connection"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The request took too long to complete.", []string{"Check your network connection", "Increase runner.call_timeout in config"}),
	},

	// Auth patterns.
	{
		match:   containsAny("401", "unauthorized", "authentication failed", "invalid token"),
		produce: constantError("Authentication Failed", "The runner rejected the token.", []string{"Check runner.token in config", "Verify the token hasn't expired"}),
	},

	// Rate limiting.
	{
		match:   containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "The upstream provider is throttling requests.", []string{"Wait a moment before retrying", "Reduce request frequency"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Check the log file for details"},
		Raw:     err.Error(),
	}
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
