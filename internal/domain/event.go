package domain

import "encoding/json"

// EventType is the value of the "event" discriminator on inbound frames.
type EventType string

const (
	EventStreamMessageStart EventType = "stream.message_start"
	EventStreamTextDelta    EventType = "stream.text_delta"
	EventStreamThinking     EventType = "stream.thinking_delta"
	EventStreamToolStart    EventType = "stream.tool_call_start"
	EventStreamToolEnd      EventType = "stream.tool_call_end"
	EventStreamMessageEnd   EventType = "stream.message_end"
	EventStreamDone         EventType = "stream.done"
	EventToolStart          EventType = "tool.start"
	EventToolEnd            EventType = "tool.end"
	EventAgentWorking       EventType = "agent.working"
	EventAgentIdle          EventType = "agent.idle"
	EventAgentError         EventType = "agent.error"
	EventCompactStart       EventType = "compact.start"
	EventCompactEnd         EventType = "compact.end"
	EventModelChanged       EventType = "config.model_changed"
	EventThinkingChanged    EventType = "config.thinking_level_changed"
	EventMessages           EventType = "messages"
	EventResponse           EventType = "response"
)

// ToolCallInfo is the finalized call attached to stream.tool_call_end.
type ToolCallInfo struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Event is the single inbound frame shape. The server flattens each
// variant's fields onto the envelope, so this struct is the union of all
// of them; only the fields for the tagged Type are populated.
type Event struct {
	Type      EventType `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp int64     `json:"ts,omitempty"`

	// stream.*
	MessageID    string          `json:"message_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ContentIndex int             `json:"content_index,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ToolCall     *ToolCallInfo   `json:"tool_call,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`

	// tool.*
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`

	// agent.*, compact.end
	Phase       string `json:"phase,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	Success     bool   `json:"success,omitempty"`

	// config.*
	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"model_id,omitempty"`
	Level    string `json:"level,omitempty"`

	// messages
	Messages []json.RawMessage `json:"messages,omitempty"`

	// response; fields are flattened onto the envelope, not nested
	ID   string          `json:"id,omitempty"`
	Cmd  string          `json:"cmd,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsStreamEvent reports whether the event mutates in-progress assistant
// output.
func (e Event) IsStreamEvent() bool {
	switch e.Type {
	case EventStreamMessageStart, EventStreamTextDelta, EventStreamThinking,
		EventStreamToolStart, EventStreamToolEnd, EventStreamMessageEnd:
		return true
	}
	return false
}
