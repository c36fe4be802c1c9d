package domain

import (
	"encoding/json"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"user":       RoleUser,
		"Human":      RoleUser,
		"assistant":  RoleAssistant,
		"agent":      RoleAssistant,
		"AI":         RoleAssistant,
		"bot":        RoleAssistant,
		"model":      RoleAssistant,
		"system":     RoleSystem,
		"tool":       RoleTool,
		"function":   RoleTool,
		"toolResult": RoleTool,
		"":           RoleAssistant,
		"martian":    RoleAssistant,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	cost := 0.25
	m := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			{Type: PartText, Text: "hello"},
			{Type: PartToolCall, ToolCallID: "tc1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)},
		},
		Usage: &Usage{InputTokens: 10, OutputTokens: 5, CostUSD: &cost},
	}

	c := m.Clone()
	c.Parts[0].Text = "changed"
	c.Parts[1].Input[2] = 'X'
	c.Usage.InputTokens = 99
	*c.Usage.CostUSD = 1.5

	if m.Parts[0].Text != "hello" {
		t.Errorf("clone mutated original text: %q", m.Parts[0].Text)
	}
	if string(m.Parts[1].Input) != `{"path":"a.go"}` {
		t.Errorf("clone mutated original input: %s", m.Parts[1].Input)
	}
	if m.Usage.InputTokens != 10 || *m.Usage.CostUSD != 0.25 {
		t.Errorf("clone mutated original usage: %+v", m.Usage)
	}
}

func TestTextContentSkipsNonText(t *testing.T) {
	m := Message{Parts: []Part{
		{Type: PartThinking, Text: "hmm"},
		{Type: PartText, Text: "one "},
		{Type: PartToolCall, ToolCallID: "tc1"},
		{Type: PartText, Text: "two"},
	}}
	if got := m.TextContent(); got != "one two" {
		t.Errorf("TextContent() = %q", got)
	}
}

func TestToolPartLookup(t *testing.T) {
	m := Message{Parts: []Part{
		{Type: PartToolCall, ToolCallID: "tc1", Name: "bash"},
		{Type: PartToolResult, ToolCallID: "tc1", Name: "bash"},
	}}
	if idx := m.FindToolCall("tc1"); idx != 0 {
		t.Errorf("FindToolCall(tc1) = %d, want 0", idx)
	}
	if idx := m.FindToolCall("nope"); idx != -1 {
		t.Errorf("FindToolCall(nope) = %d, want -1", idx)
	}
	if !m.HasToolResult("tc1") {
		t.Error("HasToolResult(tc1) = false")
	}
	if m.HasToolResult("tc2") {
		t.Error("HasToolResult(tc2) = true")
	}
}
