package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgechat/internal/domain"
)

func src() *IDSource { return NewIDSource("t", 0) }

func TestContentPlainString(t *testing.T) {
	parts := Content("hello world", src())
	require.Len(t, parts, 1)
	assert.Equal(t, domain.PartText, parts[0].Type)
	assert.Equal(t, "hello world", parts[0].Text)
	assert.NotEmpty(t, parts[0].ID)
}

func TestContentEmptyString(t *testing.T) {
	assert.Empty(t, Content("", src()))
	assert.Empty(t, Content("   ", src()))
}

func TestContentJSONEncodedString(t *testing.T) {
	// A string holding serialized block JSON is unwrapped recursively.
	inner := `[{"type":"text","text":"from nested"},{"type":"thinking","thinking":"mull"}]`
	parts := Content(inner, src())
	require.Len(t, parts, 2)
	assert.Equal(t, domain.PartText, parts[0].Type)
	assert.Equal(t, "from nested", parts[0].Text)
	assert.Equal(t, domain.PartThinking, parts[1].Type)
}

func TestContentNonBlockJSONStringStaysText(t *testing.T) {
	// JSON that decodes but matches no block shape is kept as text.
	parts := Content(`{"weird":42}`, src())
	require.Len(t, parts, 1)
	assert.Equal(t, domain.PartText, parts[0].Type)
	assert.Equal(t, `{"weird":42}`, parts[0].Text)
}

func TestContentMixedArray(t *testing.T) {
	payload := []any{
		"bare string",
		map[string]any{"type": "text", "text": "typed"},
		map[string]any{"totally": "unknown"},
	}
	parts := Content(payload, src())
	require.Len(t, parts, 2)
	assert.Equal(t, "bare string", parts[0].Text)
	assert.Equal(t, "typed", parts[1].Text)
}

func TestContentDeterministic(t *testing.T) {
	payload := []any{
		map[string]any{"type": "text", "text": "a"},
		map[string]any{"type": "tool_use", "id": "tc1", "name": "bash", "input": map[string]any{"command": "ls"}},
	}
	a := Content(payload, NewIDSource("x", 0))
	b := Content(payload, NewIDSource("x", 0))
	assert.Equal(t, a, b)
}

func TestContentRenormalizeStable(t *testing.T) {
	wire := json.RawMessage(`[
		{"type": "text", "text": "running the build"},
		{"type": "thinking", "thinking": "need the exit code first"},
		{"type": "tool_use", "id": "tc1", "name": "bash", "input": {"command": "go build ./...", "timeout": 30}},
		{"type": "tool_result", "tool_use_id": "tc1", "content": {"exit_code": 1, "stderr": "undefined: foo"}, "is_error": true},
		{"type": "image", "source": {"media_type": "image/png", "data": "aGk="}},
		{"type": "file_ref", "uri": "file:///tmp/out.log", "label": "build log"}
	]`)

	first := Content(wire, src())
	require.Len(t, first, 6)

	serialized, err := json.Marshal(first)
	require.NoError(t, err)
	second := Content(json.RawMessage(serialized), src())

	assert.Equal(t, first, second)
}

func TestCoerceToolResultBeforeText(t *testing.T) {
	// Blocks carrying tool markers must become tool_result even though a
	// "content" field is present.
	block := map[string]any{
		"tool_use_id": "tc1",
		"content":     "file contents here",
		"is_error":    false,
	}
	p, ok := CoerceBlock(block, src())
	require.True(t, ok)
	assert.Equal(t, domain.PartToolResult, p.Type)
	assert.Equal(t, "tc1", p.ToolCallID)
	assert.JSONEq(t, `"file contents here"`, string(p.Output))
}

func TestCoerceToolCall(t *testing.T) {
	block := map[string]any{
		"name":      "write_file",
		"arguments": map[string]any{"path": "x.go"},
	}
	p, ok := CoerceBlock(block, src())
	require.True(t, ok)
	assert.Equal(t, domain.PartToolCall, p.Type)
	assert.Equal(t, "write_file", p.Name)
	assert.JSONEq(t, `{"path":"x.go"}`, string(p.Input))
}

func TestCoerceBareContentIsThinking(t *testing.T) {
	p, ok := CoerceBlock(map[string]any{"content": "pondering"}, src())
	require.True(t, ok)
	assert.Equal(t, domain.PartThinking, p.Type)
	assert.Equal(t, "pondering", p.Text)
}

func TestCoerceTypedImage(t *testing.T) {
	block := map[string]any{
		"type":   "image",
		"source": map[string]any{"media_type": "image/png", "data": "aGk="},
	}
	p, ok := CoerceBlock(block, src())
	require.True(t, ok)
	assert.Equal(t, domain.PartImage, p.Type)
	assert.Equal(t, "image/png", p.MimeType)
	assert.Equal(t, "aGk=", p.Data)
}

func TestCoerceUnknownSkipped(t *testing.T) {
	_, ok := CoerceBlock(map[string]any{"frob": 1.0}, src())
	assert.False(t, ok)
}

func TestMessagesToolRoleFolding(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`{"id":"m1","role":"user","content":"run ls"}`),
		json.RawMessage(`{"id":"m2","role":"assistant","content":[{"type":"tool_use","id":"tc1","name":"bash","input":{"command":"ls"}}]}`),
		json.RawMessage(`{"role":"tool","tool_call_id":"tc1","content":"a.go\nb.go"}`),
	}
	msgs := Messages(rawList, src())
	require.Len(t, msgs, 2)

	assistant := msgs[1]
	require.Len(t, assistant.Parts, 2)
	assert.Equal(t, domain.PartToolCall, assistant.Parts[0].Type)
	assert.Equal(t, domain.PartToolResult, assistant.Parts[1].Type)
	assert.Equal(t, "tc1", assistant.Parts[1].ToolCallID)
}

func TestMessagesToolRoleByNameFallback(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`{"id":"m1","role":"assistant","content":[{"type":"tool_use","id":"tc9","name":"grep","input":{}}]}`),
		json.RawMessage(`{"role":"function","name":"grep","content":"no matches"}`),
	}
	msgs := Messages(rawList, src())
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 2)
	assert.Equal(t, "tc9", msgs[0].Parts[1].ToolCallID)
}

func TestMessagesOrphanToolRecordSynthesized(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`{"role":"tool","tool_call_id":"ghost","content":"late result"}`),
	}
	msgs := Messages(rawList, src())
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	require.Len(t, msgs[0].Parts, 1)
	assert.Equal(t, domain.PartToolResult, msgs[0].Parts[0].Type)
}

func TestMessagesDuplicateToolResultIgnored(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`{"id":"m1","role":"assistant","content":[{"type":"tool_use","id":"tc1","name":"bash","input":{}}]}`),
		json.RawMessage(`{"role":"tool","tool_call_id":"tc1","content":"first"}`),
		json.RawMessage(`{"role":"tool","tool_call_id":"tc1","content":"second"}`),
	}
	msgs := Messages(rawList, src())
	// Second record matches no pending call, so it lands in its own
	// message rather than overwriting the attached result.
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Parts, 2)
	assert.JSONEq(t, `"first"`, string(msgs[0].Parts[1].Output))
}

func TestMessagesSkipsGarbage(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`"not an object at all`),
		json.RawMessage(`42`),
		json.RawMessage(`{"id":"m1","role":"user","content":"real"}`),
		json.RawMessage(`{"id":"m2","role":"assistant","content":[]}`),
	}
	msgs := Messages(rawList, src())
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestMessagesCarriesMetadata(t *testing.T) {
	rawList := []json.RawMessage{
		json.RawMessage(`{"id":"m1","role":"assistant","content":"hi","model":"sonnet","provider":"anthropic","stop_reason":"end_turn","created_at":1700000000000,"usage":{"input_tokens":12,"output_tokens":3}}`),
	}
	msgs := Messages(rawList, src())
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "sonnet", m.Model)
	assert.Equal(t, "anthropic", m.Provider)
	assert.Equal(t, "end_turn", m.StopReason)
	assert.EqualValues(t, 1700000000000, m.CreatedAt)
	require.NotNil(t, m.Usage)
	assert.Equal(t, 12, m.Usage.InputTokens)
}

func TestIDSourceStable(t *testing.T) {
	s := NewIDSource("ses_1", 5)
	assert.Equal(t, "ses_1_msg_6", s.NextMessage())
	assert.Equal(t, "ses_1_part_7", s.NextPart())
	assert.EqualValues(t, 7, s.Counter())
}
