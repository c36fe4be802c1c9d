package domain

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole maps the role spellings seen across agent harnesses onto the
// canonical set. Unknown spellings fall back to assistant so a message is
// never dropped for having an exotic role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser
	case "system":
		return RoleSystem
	case "tool", "function", "toolresult", "tool_result":
		return RoleTool
	case "", "assistant", "agent", "ai", "bot", "model":
		return RoleAssistant
	default:
		return RoleAssistant
	}
}

// PartType discriminates the content part union.
type PartType string

const (
	PartText       PartType = "text"
	PartThinking   PartType = "thinking"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
	PartFileRef    PartType = "file_ref"
	PartCompaction PartType = "compaction"
	PartError      PartType = "error"
)

// Part is one typed block of message content. Only the fields relevant to
// its Type are populated.
type Part struct {
	ID   string   `json:"id,omitempty"`
	Type PartType `json:"type"`

	// text, thinking, error
	Text string `json:"text,omitempty"`

	// tool_call, tool_result
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// image
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`

	// file_ref
	URI   string `json:"uri,omitempty"`
	Label string `json:"label,omitempty"`
}

// Usage tracks token consumption reported by the runner.
type Usage struct {
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CacheRead    int      `json:"cache_read,omitempty"`
	CacheWrite   int      `json:"cache_write,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
}

// Message is the canonical chat message. IDs are either server-assigned or
// synthesized locally with an unambiguous local prefix.
type Message struct {
	ID          string  `json:"id"`
	Role        Role    `json:"role"`
	Parts       []Part  `json:"parts"`
	CreatedAt   int64   `json:"created_at,omitempty"` // unix millis
	ClientID    string  `json:"client_id,omitempty"`
	IsStreaming bool    `json:"is_streaming,omitempty"`
	Model       string  `json:"model,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	StopReason  string  `json:"stop_reason,omitempty"`
	Usage       *Usage  `json:"usage,omitempty"`
}

// Clone returns a deep copy. Raw JSON payloads are copied so the receiver
// can keep mutating the original without aliasing surprises.
func (m Message) Clone() Message {
	out := m
	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = p.clone()
	}
	if m.Usage != nil {
		u := *m.Usage
		if m.Usage.CostUSD != nil {
			c := *m.Usage.CostUSD
			u.CostUSD = &c
		}
		out.Usage = &u
	}
	return out
}

func (p Part) clone() Part {
	out := p
	if p.Input != nil {
		out.Input = append(json.RawMessage(nil), p.Input...)
	}
	if p.Output != nil {
		out.Output = append(json.RawMessage(nil), p.Output...)
	}
	return out
}

// TextContent concatenates the visible text parts, skipping thinking and
// tool traffic.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FindToolCall returns the index of the tool_call part with the given id,
// or -1.
func (m Message) FindToolCall(toolCallID string) int {
	for i, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// HasToolResult reports whether a tool_result for the given id is already
// attached.
func (m Message) HasToolResult(toolCallID string) bool {
	for _, p := range m.Parts {
		if p.Type == PartToolResult && p.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}
