// Package reconcile correlates and merges message lists that describe the
// same conversation from different vantage points: the local optimistic
// view, the streaming view, and server history snapshots.
package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"forgechat/internal/domain"
)

// Fingerprint computes a content identity for a message: the role plus an
// ordered signature per part. Two messages with the same fingerprint are
// treated as the same logical message even when their ids differ across
// snapshot boundaries.
func Fingerprint(m domain.Message) string {
	var b strings.Builder
	b.WriteString(string(m.Role))
	for _, p := range m.Parts {
		b.WriteByte('|')
		b.WriteString(partSignature(p))
	}
	return b.String()
}

func partSignature(p domain.Part) string {
	switch p.Type {
	case domain.PartText:
		return "text:" + p.Text
	case domain.PartThinking:
		return "think:" + p.Text
	case domain.PartToolCall:
		return "call:" + p.Name + ":" + compactJSON(p.Input)
	case domain.PartToolResult:
		sig := "result:" + p.Name + ":" + compactJSON(p.Output)
		if p.IsError {
			sig += ":err"
		}
		return sig
	case domain.PartImage:
		return "image:" + p.MimeType + ":" + p.URL + ":" + strconv.Itoa(len(p.Data))
	case domain.PartFileRef:
		return "file:" + p.URI
	case domain.PartCompaction:
		return "compaction"
	case domain.PartError:
		return "error:" + p.Text
	default:
		return "unknown"
	}
}

// TextSignature is a weaker identity: role plus concatenated visible
// text. It survives the part re-segmentation servers apply when they
// re-serialize history, so it is used for cross-boundary matching when
// fingerprints disagree.
func TextSignature(m domain.Message) string {
	return string(m.Role) + "|" + strings.TrimSpace(m.TextContent())
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

