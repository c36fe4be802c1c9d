package domain

// SessionStatus is the lifecycle state of one chat session.
type SessionStatus string

const (
	StatusIdle             SessionStatus = "idle"
	StatusAwaitingResponse SessionStatus = "awaiting_response"
	StatusStreaming        SessionStatus = "streaming"
	StatusError            SessionStatus = "error"
)

// Busy reports whether the runner is doing work on our behalf. Snapshots
// arriving while busy must not clobber in-progress stream state.
func (s SessionStatus) Busy() bool {
	return s == StatusAwaitingResponse || s == StatusStreaming
}

// Session is the client-side view of one runner session.
type Session struct {
	ID            string        `json:"id"`
	Status        SessionStatus `json:"status"`
	Config        SessionConfig `json:"config"`
	ThinkingLevel string        `json:"thinking_level,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}
