package components

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"forgechat/internal/adapter/tui/theme"
	"forgechat/internal/domain"
)

// TranscriptModel renders the session message list inside a viewport with
// smart auto-scroll: scrolling is pinned to the bottom until the user
// scrolls up, and resumes once they return to the bottom.
//
// Unlike an append-only chat log, the transcript is replaced wholesale on
// every engine snapshot. Rendered markdown is cached per message ID and
// invalidated when the message content changes, so steady-state redraws
// only re-render the in-flight streaming message.
type TranscriptModel struct {
	Viewport viewport.Model

	Markdown   bool // render assistant text through glamour
	ShowTokens bool // append token usage to completed assistant messages

	messages []domain.Message
	notice   string // transient local notice appended after the transcript

	width      int
	ready      bool
	atBottom   bool
	mdRenderer *glamour.TermRenderer
	mdCache    map[string]mdCacheEntry
}

type mdCacheEntry struct {
	textLen  int // cache key: content length changes as deltas arrive
	rendered string
}

// NewTranscript creates a transcript view. The viewport is initialized
// lazily on the first SetSize call.
func NewTranscript(markdown, showTokens bool) TranscriptModel {
	return TranscriptModel{
		Markdown:   markdown,
		ShowTokens: showTokens,
		atBottom:   true,
		mdCache:    make(map[string]mdCacheEntry),
	}
}

// SetSize sets the viewport dimensions and triggers a content re-render.
func (m *TranscriptModel) SetSize(w, h int) {
	if w != m.width {
		m.width = w
		m.mdRenderer = nil
		m.mdCache = make(map[string]mdCacheEntry)
	}
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetMessages replaces the transcript content from an engine snapshot.
func (m *TranscriptModel) SetMessages(msgs []domain.Message) {
	m.messages = msgs
	m.refresh()
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

// SetNotice sets a transient local notice (command feedback, friendly
// errors) shown after the last message. Empty clears it.
func (m *TranscriptModel) SetNotice(s string) {
	m.notice = s
	m.refresh()
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

// Update handles viewport scrolling and tracks auto-scroll state.
func (m TranscriptModel) Update(msg tea.Msg) (TranscriptModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the transcript viewport.
func (m TranscriptModel) View() string {
	if !m.ready {
		return "  Initializing..."
	}
	return m.Viewport.View()
}

func (m *TranscriptModel) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.render())
}

func (m *TranscriptModel) render() string {
	if len(m.messages) == 0 && m.notice == "" {
		return theme.TextMuted.Render("  No messages yet. Start a conversation!")
	}

	width := ContentWidth(m.width)

	var sb strings.Builder
	for i := range m.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.messages[i], width))
		sb.WriteString("\n")
	}
	if m.notice != "" {
		if len(m.messages) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.notice)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *TranscriptModel) renderMessage(msg *domain.Message, width int) string {
	header := roleLabel(msg.Role)
	if ts := RelativeTime(msg.CreatedAt); ts != "" {
		header += " " + theme.Timestamp.Render(ts)
	}
	if msg.IsStreaming {
		header += " " + theme.TextInfo.Render(theme.SymbolSpinner)
	}

	var blocks []string
	for i := range msg.Parts {
		if b := m.renderPart(msg, &msg.Parts[i], width); b != "" {
			blocks = append(blocks, b)
		}
	}

	if m.ShowTokens && msg.Role == domain.RoleAssistant && !msg.IsStreaming && msg.Usage != nil {
		blocks = append(blocks, theme.Timestamp.Render(usageLine(msg.Usage)))
	}

	if len(blocks) == 0 {
		return header
	}
	return header + "\n" + strings.Join(blocks, "\n")
}

func (m *TranscriptModel) renderPart(msg *domain.Message, p *domain.Part, width int) string {
	switch p.Type {
	case domain.PartText:
		if msg.Role == domain.RoleAssistant && m.Markdown {
			return strings.TrimRight(m.renderMarkdown(msg.ID, p.Text, width), "\n")
		}
		return "  " + wrapText(p.Text, width-2)

	case domain.PartThinking:
		return theme.Thinking.Render("  " + wrapText(p.Text, width-2))

	case domain.PartToolCall:
		line := "  " + theme.ToolLabel.Render(theme.SymbolArrowR+" "+p.Name)
		if arg := toolArgSummary(p.Input, width-len(p.Name)-8); arg != "" {
			line += " " + theme.TextMuted.Render(arg)
		}
		// Completion state comes from the paired result, if any.
		if res := findToolResult(msg, p.ToolCallID); res != nil {
			if res.IsError {
				line += " " + theme.TextError.Render(theme.SymbolError)
			} else {
				line += " " + theme.TextSuccess.Render(theme.SymbolSuccess)
			}
		}
		return line

	case domain.PartToolResult:
		if !p.IsError {
			return "" // success output stays collapsed behind the call line
		}
		return theme.TextError.Render("  " + wrapText(rawPreview(p.Output, 300), width-2))

	case domain.PartError:
		return theme.TextError.Render("  " + wrapText(p.Text, width-2))

	case domain.PartCompaction:
		return theme.TextMuted.Render("  " + theme.SymbolBullet + " " + wrapText(p.Text, width-4))

	case domain.PartImage:
		return theme.TextMuted.Render("  [image " + p.MimeType + "]")

	case domain.PartFileRef:
		name := p.Label
		if name == "" {
			name = p.URI
		}
		return theme.TextMuted.Render("  [file " + name + "]")

	default:
		return ""
	}
}

func (m *TranscriptModel) renderMarkdown(msgID, content string, width int) string {
	if entry, ok := m.mdCache[msgID]; ok && entry.textLen == len(content) {
		return entry.rendered
	}
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		rendered = "  " + content
	}
	m.mdCache[msgID] = mdCacheEntry{textLen: len(content), rendered: rendered}
	return rendered
}

func findToolResult(msg *domain.Message, toolCallID string) *domain.Part {
	for i := range msg.Parts {
		p := &msg.Parts[i]
		if p.Type == domain.PartToolResult && p.ToolCallID == toolCallID {
			return p
		}
	}
	return nil
}

func roleLabel(role domain.Role) string {
	switch role {
	case domain.RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case domain.RoleAssistant:
		return theme.AgentLabel.Render(theme.SymbolAgent)
	case domain.RoleSystem:
		return theme.SystemLabel.Render("System")
	case domain.RoleTool:
		return theme.ToolLabel.Render("Tool")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

// toolArgSummary extracts a one-line preview of a tool call's input.
func toolArgSummary(raw json.RawMessage, maxLen int) string {
	if len(raw) == 0 || maxLen < 8 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || len(args) == 0 {
		return ""
	}
	// Prefer the fields harnesses most commonly put first.
	for _, key := range []string{"command", "path", "file_path", "pattern", "url", "query"} {
		if v, ok := args[key].(string); ok && v != "" {
			return truncate(v, maxLen)
		}
	}
	for _, v := range args {
		if s, ok := v.(string); ok && s != "" {
			return truncate(s, maxLen)
		}
	}
	return ""
}

// rawPreview renders a raw JSON output as display text. JSON strings are
// unwrapped; everything else is shown as-is, truncated.
func rawPreview(raw json.RawMessage, maxLen int) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return truncate(s, maxLen)
	}
	return truncate(string(raw), maxLen)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if maxLen < 4 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + theme.SymbolEllipsis
}

func usageLine(u *domain.Usage) string {
	line := fmt.Sprintf("%d in / %d out tokens", u.InputTokens, u.OutputTokens)
	if u.CostUSD != nil {
		line += fmt.Sprintf(" ($%.4f)", *u.CostUSD)
	}
	return "  " + line
}

// RelativeTime returns a human-readable relative time for a unix-millis
// timestamp. Zero timestamps render as empty.
func RelativeTime(unixMillis int64) string {
	if unixMillis == 0 {
		return ""
	}
	t := time.UnixMilli(unixMillis)
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps text to the given width with a 2-space indent on
// continuation lines. Rune-based so multibyte UTF-8 is never split.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		runes := []rune(line)
		for len(runes) > width {
			idx := -1
			for i := width - 1; i > 0; i-- {
				if runes[i] == ' ' {
					idx = i
					break
				}
			}
			if idx <= 0 {
				idx = width
			}
			out = append(out, string(runes[:idx]))
			runes = runes[idx:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n  ")
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	w := termWidth - 4
	if w > theme.MaxContentWidth {
		w = theme.MaxContentWidth
	}
	if w < 40 {
		w = 40
	}
	return w
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
