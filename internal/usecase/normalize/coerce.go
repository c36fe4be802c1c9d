package normalize

import (
	"encoding/json"
	"fmt"

	"forgechat/internal/domain"
)

// CoerceBlock maps one loosely-shaped content block onto a canonical
// part. It first honors an explicit "type" discriminator, then falls back
// to keyed shape heuristics, checked in order so that tool traffic is
// claimed before generic text. Returns false when the block matches
// nothing usable.
func CoerceBlock(obj map[string]any, ids *IDSource) (domain.Part, bool) {
	if obj == nil {
		return domain.Part{}, false
	}

	if typ, ok := strField(obj, "type"); ok {
		if p, ok := coerceTyped(typ, obj, ids); ok {
			return p, true
		}
	}

	// tool_result before anything else: these blocks often carry a
	// "content" field that would otherwise be mistaken for text.
	if id, ok := firstStr(obj, "tool_use_id", "toolUseId", "tool_call_id", "toolCallId"); ok {
		if out, found := firstRaw(obj, "output", "content", "result"); found {
			return finishPart(domain.Part{
				Type:       domain.PartToolResult,
				ToolCallID: id,
				Name:       strOr(obj, "", "name", "tool_name", "toolName"),
				Output:     out,
				IsError:    boolOr(obj, "is_error", "isError"),
			}, obj, ids), true
		}
	}

	if name, ok := strField(obj, "name"); ok {
		if in, found := firstRaw(obj, "input", "arguments", "args"); found {
			return finishPart(domain.Part{
				Type:       domain.PartToolCall,
				ToolCallID: strOr(obj, "", "tool_use_id", "toolUseId", "tool_call_id", "toolCallId", "id"),
				Name:       name,
				Input:      in,
			}, obj, ids), true
		}
	}

	if s, ok := strField(obj, "thinking"); ok {
		return finishPart(domain.Part{Type: domain.PartThinking, Text: s}, obj, ids), true
	}
	if s, ok := strField(obj, "text"); ok {
		return finishPart(domain.Part{Type: domain.PartText, Text: s}, obj, ids), true
	}
	// A bare string "content" with no tool markers is reasoning spill
	// from harnesses that do not tag thinking explicitly.
	if s, ok := strField(obj, "content"); ok {
		return finishPart(domain.Part{Type: domain.PartThinking, Text: s}, obj, ids), true
	}

	return domain.Part{}, false
}

func coerceTyped(typ string, obj map[string]any, ids *IDSource) (domain.Part, bool) {
	switch typ {
	case "text":
		s, _ := firstStr(obj, "text", "content")
		return finishPart(domain.Part{Type: domain.PartText, Text: s}, obj, ids), true
	case "thinking", "redacted_thinking", "reasoning":
		s, _ := firstStr(obj, "thinking", "text", "content")
		return finishPart(domain.Part{Type: domain.PartThinking, Text: s}, obj, ids), true
	case "tool_call", "tool_use", "toolCall", "toolUse":
		in, _ := firstRaw(obj, "input", "arguments", "args")
		return finishPart(domain.Part{
			Type:       domain.PartToolCall,
			ToolCallID: strOr(obj, "", "tool_use_id", "toolUseId", "tool_call_id", "toolCallId", "id"),
			Name:       strOr(obj, "", "name", "tool_name", "toolName"),
			Input:      in,
		}, obj, ids), true
	case "tool_result", "toolResult", "tool_output":
		out, _ := firstRaw(obj, "output", "content", "result")
		return finishPart(domain.Part{
			Type:       domain.PartToolResult,
			ToolCallID: strOr(obj, "", "tool_use_id", "toolUseId", "tool_call_id", "toolCallId", "id"),
			Name:       strOr(obj, "", "name", "tool_name", "toolName"),
			Output:     out,
			IsError:    boolOr(obj, "is_error", "isError"),
		}, obj, ids), true
	case "image":
		p := domain.Part{Type: domain.PartImage}
		p.MimeType = strOr(obj, "", "mime_type", "mimeType", "media_type")
		p.URL = strOr(obj, "", "url")
		p.Data = strOr(obj, "", "data")
		if src, ok := obj["source"].(map[string]any); ok {
			if p.MimeType == "" {
				p.MimeType = strOr(src, "", "media_type", "mime_type")
			}
			if p.Data == "" {
				p.Data = strOr(src, "", "data")
			}
			if p.URL == "" {
				p.URL = strOr(src, "", "url")
			}
		}
		return finishPart(p, obj, ids), true
	case "file_ref", "file", "document":
		return finishPart(domain.Part{
			Type:  domain.PartFileRef,
			URI:   strOr(obj, "", "uri", "url", "path"),
			Label: strOr(obj, "", "label", "title", "name"),
		}, obj, ids), true
	case "compaction", "compact":
		s, _ := firstStr(obj, "text", "summary", "content")
		return finishPart(domain.Part{Type: domain.PartCompaction, Text: s}, obj, ids), true
	case "error":
		s, _ := firstStr(obj, "text", "error", "message", "content")
		return finishPart(domain.Part{Type: domain.PartError, Text: s}, obj, ids), true
	}
	return domain.Part{}, false
}

func finishPart(p domain.Part, obj map[string]any, ids *IDSource) domain.Part {
	if id, ok := firstStr(obj, "part_id", "partId"); ok {
		p.ID = id
	} else if p.ID == "" {
		// Tool blocks that spell their call id as a bare "id" have already
		// claimed it as ToolCallID above; reusing it as the part id keeps
		// renormalization of serialized parts stable.
		if id, ok := strField(obj, "id"); ok {
			p.ID = id
		}
	}
	if p.ID == "" {
		p.ID = ids.NextPart()
	}
	return p
}

func strField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func firstStr(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := strField(obj, k); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func strOr(obj map[string]any, def string, keys ...string) string {
	if s, ok := firstStr(obj, keys...); ok {
		return s
	}
	return def
}

func boolOr(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := obj[k].(bool); ok {
			return b
		}
	}
	return false
}

// firstRaw re-encodes the first present key's value as raw JSON so tool
// input and output keep their original structure.
func firstRaw(obj map[string]any, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(v))), true
		}
		return raw, true
	}
	return nil, false
}
