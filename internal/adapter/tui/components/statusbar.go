package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"forgechat/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders the bottom status bar: keybinding hints on the
// left, connection and session state on the right.
type StatusBarModel struct {
	Hints     []KeyHint
	Connected bool
	Model     string // provider/model of the active session
	Thinking  string // thinking level, empty hides the segment
	Extra     string // transient activity text (e.g. "Running tests...")
	width     int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var segments []string
	if m.Extra != "" {
		segments = append(segments, theme.TextInfo.Render(m.Extra))
	}
	if m.Model != "" {
		segments = append(segments, theme.TextMuted.Render(m.Model))
	}
	if m.Thinking != "" {
		segments = append(segments, theme.TextMuted.Render("thinking:"+m.Thinking))
	}
	if m.Connected {
		segments = append(segments, theme.TextSuccess.Render(theme.SymbolOnline))
	} else {
		segments = append(segments, theme.TextError.Render(theme.SymbolOffline+" offline"))
	}
	right := strings.Join(segments, theme.TextMuted.Render(" "+theme.SymbolBullet+" "))

	leftW := lipgloss.Width(left)
	rightW := lipgloss.Width(right)
	gap := m.width - leftW - rightW
	if gap < 1 {
		gap = 1
	}

	bar := left + strings.Repeat(" ", gap) + right
	return theme.StatusBar.Width(m.width).Render(bar)
}
