package domain

import (
	"encoding/json"
	"testing"
)

func TestEventUnmarshalDelta(t *testing.T) {
	raw := `{"event":"stream.text_delta","session_id":"ses_1","delta":"Hel","content_index":0}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventStreamTextDelta || ev.SessionID != "ses_1" || ev.Delta != "Hel" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !ev.IsStreamEvent() {
		t.Error("text_delta should be a stream event")
	}
}

func TestEventUnmarshalResponseFlattened(t *testing.T) {
	// Command responses flatten id/cmd/success onto the envelope.
	raw := `{"event":"response","session_id":"ses_1","id":"req_7","cmd":"get_messages","success":true,"data":{"messages":[]}}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventResponse || ev.ID != "req_7" || ev.Cmd != CmdGetMessages || !ev.Success {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.IsStreamEvent() {
		t.Error("response should not be a stream event")
	}
}

func TestEventUnmarshalToolCallEnd(t *testing.T) {
	raw := `{"event":"stream.tool_call_end","session_id":"ses_1","tool_call":{"id":"tc_1","name":"bash","input":{"command":"ls"}}}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ToolCall == nil || ev.ToolCall.ID != "tc_1" || ev.ToolCall.Name != "bash" {
		t.Fatalf("unexpected tool call: %+v", ev.ToolCall)
	}
}

func TestSessionNotFoundText(t *testing.T) {
	positives := []string{
		"session not found: ses_9",
		"Unknown session ses_9",
		"no such session",
		"the Session does not exist anymore",
	}
	for _, s := range positives {
		if !SessionNotFoundText(s) {
			t.Errorf("SessionNotFoundText(%q) = false", s)
		}
	}
	if SessionNotFoundText("tool execution failed") {
		t.Error("unrelated error classified as session-not-found")
	}
}
