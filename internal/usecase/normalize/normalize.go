package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"forgechat/internal/domain"
)

// Content converts any content payload shape into canonical parts.
// Strings that contain serialized JSON are re-normalized recursively,
// which unwraps the double-encoded payloads some harnesses emit.
func Content(raw any, ids *IDSource) []domain.Part {
	switch v := raw.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return rawContent([]byte(v), ids)
	case []byte:
		return rawContent(v, ids)
	case string:
		return stringContent(v, ids)
	case []any:
		var parts []domain.Part
		for _, elem := range v {
			parts = append(parts, Content(elem, ids)...)
		}
		return parts
	case map[string]any:
		if p, ok := CoerceBlock(v, ids); ok {
			return []domain.Part{p}
		}
		return nil
	case domain.Part:
		if v.ID == "" {
			v.ID = ids.NextPart()
		}
		return []domain.Part{v}
	case float64, int, int64, bool:
		return []domain.Part{{ID: ids.NextPart(), Type: domain.PartText, Text: fmt.Sprint(v)}}
	default:
		return nil
	}
}

func rawContent(data []byte, ids *IDSource) []domain.Part {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return stringContent(string(data), ids)
	}
	return Content(decoded, ids)
}

func stringContent(s string, ids *IDSource) []domain.Part {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			switch decoded.(type) {
			case []any, map[string]any:
				if parts := Content(decoded, ids); len(parts) > 0 {
					return parts
				}
			}
		}
	}
	return []domain.Part{{ID: ids.NextPart(), Type: domain.PartText, Text: s}}
}

// Messages converts a raw history list into canonical messages. Tool-role
// records are folded into the assistant message that issued the call; a
// record that matches no pending call becomes its own assistant message
// so the result is never lost.
func Messages(rawList []json.RawMessage, ids *IDSource) []domain.Message {
	var out []domain.Message
	for _, raw := range rawList {
		rec := decodeRecord(raw)
		if rec == nil {
			continue
		}
		role := domain.ParseRole(strOr(rec, "", "role"))
		if role == domain.RoleTool {
			attachToolRecord(&out, rec, ids)
			continue
		}

		msg := domain.Message{
			ID:       strOr(rec, "", "id", "message_id", "messageId"),
			Role:     role,
			ClientID: strOr(rec, "", "client_id", "clientId"),
			Model:    strOr(rec, "", "model"),
			Provider: strOr(rec, "", "provider"),
		}
		if msg.ID == "" {
			msg.ID = ids.NextMessage()
		}
		msg.CreatedAt = intOr(rec, "created_at", "timestamp", "ts")
		msg.StopReason = strOr(rec, "", "stop_reason", "stopReason")
		msg.Usage = usageOf(rec)

		for _, key := range []string{"parts", "content", "blocks"} {
			if v, ok := rec[key]; ok {
				msg.Parts = Content(v, ids)
				break
			}
		}
		if len(msg.Parts) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Message normalizes a single raw record, for stream.message_end payloads.
func Message(raw json.RawMessage, ids *IDSource) (domain.Message, bool) {
	msgs := Messages([]json.RawMessage{raw}, ids)
	if len(msgs) != 1 {
		return domain.Message{}, false
	}
	return msgs[0], true
}

func decodeRecord(raw json.RawMessage) map[string]any {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	// Some harnesses double-encode history records.
	if s, ok := decoded.(string); ok {
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
	}
	rec, _ := decoded.(map[string]any)
	return rec
}

// attachToolRecord folds a tool-role record into the assistant message
// holding the matching pending tool_call. The record's text content is
// redundant with the result payload, so only a tool_result part is built.
func attachToolRecord(out *[]domain.Message, rec map[string]any, ids *IDSource) {
	part := domain.Part{
		ID:         ids.NextPart(),
		Type:       domain.PartToolResult,
		ToolCallID: strOr(rec, "", "tool_call_id", "toolCallId", "tool_use_id", "toolUseId"),
		Name:       strOr(rec, "", "name", "tool_name", "toolName"),
		IsError:    boolOr(rec, "is_error", "isError"),
	}
	if raw, ok := firstRaw(rec, "output", "content", "result"); ok {
		part.Output = raw
	}

	if idx, pidx := findPendingCall(*out, part.ToolCallID, part.Name); idx >= 0 {
		tgt := &(*out)[idx]
		if part.ToolCallID == "" {
			part.ToolCallID = tgt.Parts[pidx].ToolCallID
		}
		if part.Name == "" {
			part.Name = tgt.Parts[pidx].Name
		}
		if !tgt.HasToolResult(part.ToolCallID) {
			tgt.Parts = append(tgt.Parts, part)
		}
		return
	}

	*out = append(*out, domain.Message{
		ID:    ids.NextMessage(),
		Role:  domain.RoleAssistant,
		Parts: []domain.Part{part},
	})
}

// findPendingCall scans backwards for a tool_call without a result,
// matching by id when present, otherwise by tool name.
func findPendingCall(msgs []domain.Message, toolCallID, name string) (int, int) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != domain.RoleAssistant {
			continue
		}
		for j := len(msgs[i].Parts) - 1; j >= 0; j-- {
			p := msgs[i].Parts[j]
			if p.Type != domain.PartToolCall {
				continue
			}
			if toolCallID != "" {
				if p.ToolCallID == toolCallID && !msgs[i].HasToolResult(toolCallID) {
					return i, j
				}
				continue
			}
			if name != "" && p.Name == name && !msgs[i].HasToolResult(p.ToolCallID) {
				return i, j
			}
		}
	}
	return -1, -1
}

func intOr(obj map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if f, ok := obj[k].(float64); ok {
			return int64(f)
		}
	}
	return 0
}

func usageOf(rec map[string]any) *domain.Usage {
	raw, ok := rec["usage"].(map[string]any)
	if !ok {
		return nil
	}
	u := &domain.Usage{
		InputTokens:  int(intOr(raw, "input_tokens", "inputTokens", "prompt_tokens")),
		OutputTokens: int(intOr(raw, "output_tokens", "outputTokens", "completion_tokens")),
		CacheRead:    int(intOr(raw, "cache_read", "cache_read_input_tokens")),
		CacheWrite:   int(intOr(raw, "cache_write", "cache_creation_input_tokens")),
	}
	if f, ok := raw["cost_usd"].(float64); ok {
		u.CostUSD = &f
	}
	return u
}
