package chat

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"forgechat/internal/adapter/tui/components"
	"forgechat/internal/adapter/tui/theme"
	"forgechat/internal/adapter/tui/uxerror"
	"forgechat/internal/usecase/stream"
)

// Deps are dependencies injected into the chat model.
type Deps struct {
	Engine     *stream.Processor
	Logger     *slog.Logger
	Markdown   bool
	ShowTokens bool
}

// ChatModel is the root Bubble Tea model for the chat TUI.
type ChatModel struct {
	deps Deps

	// Sub-models
	transcript components.TranscriptModel
	input      components.InputAreaModel
	statusBar  components.StatusBarModel
	spinner    spinner.Model

	// State
	snap      stream.Snapshot
	connected bool
	width     int
	height    int
	quitting  bool
}

const defaultPlaceholder = "Message the agent..."
const steeringPlaceholder = "Agent is working; Enter steers the turn..."

func slashCommands() []components.CommandDef {
	return []components.CommandDef{
		{Name: "/help", Description: "Show available commands"},
		{Name: "/model", Description: "Switch model: /model [provider/]model"},
		{Name: "/thinking", Description: "Set thinking level: off|low|medium|high"},
		{Name: "/compact", Description: "Compact the conversation context"},
		{Name: "/followup", Description: "Queue a message for after this turn"},
		{Name: "/abort", Description: "Abort the current turn"},
		{Name: "/refresh", Description: "Re-sync messages from the runner"},
		{Name: "/quit", Description: "Exit forgechat"},
	}
}

// NewChatModel creates the root chat model.
func NewChatModel(deps Deps) ChatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Hints = defaultHints()

	return ChatModel{
		deps:       deps,
		transcript: components.NewTranscript(deps.Markdown, deps.ShowTokens),
		input:      components.NewInputArea(slashCommands()),
		statusBar:  sb,
		spinner:    s,
		connected:  true,
	}
}

// Init starts the spinner and pulls the first snapshot from the engine.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		initialSnapshotCmd(m.deps.Engine),
	)
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case SnapshotMsg:
		return m.applySnapshot(msg.Snapshot), nil

	case ConnMsg:
		m.connected = msg.Connected
		m.statusBar.Connected = msg.Connected
		return m, nil

	case NoticeMsg:
		m.transcript.SetNotice(msg.Text)
		return m, nil

	case CmdErrMsg:
		friendly := uxerror.Humanize(msg.Err)
		m.deps.Logger.Warn("command failed", "error", msg.Err)
		m.transcript.SetNotice(friendly.Render())
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Status.Busy() {
			m.statusBar.Extra = m.spinner.View() + " " + workingLabel(m.snap)
		}
		cmds = append(cmds, cmd)
	}

	// Update sub-models (mouse events go to the transcript only).
	if _, isMouse := msg.(tea.MouseMsg); !isMouse {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	title := m.titleBar()
	content := m.transcript.View()
	inputView := m.input.View()
	statusView := m.statusBar.View()

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		content,
		components.Divider(m.width),
		inputView,
		statusView,
	)
}

func (m ChatModel) titleBar() string {
	left := theme.Bold.Render("forgechat")
	if id := m.snap.SessionID; id != "" {
		left += " " + theme.TextMuted.Render(id)
	}
	return lipgloss.NewStyle().Width(m.width).Render(left)
}

// layout recalculates sizes for all sub-models.
func (m *ChatModel) layout() {
	titleH := 1
	inputH := 3
	statusH := 1
	dividerH := 1
	contentH := m.height - titleH - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}

	m.statusBar.SetWidth(m.width)
	m.transcript.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// applySnapshot is the single place UI state is derived from engine state.
func (m ChatModel) applySnapshot(snap stream.Snapshot) ChatModel {
	m.snap = snap
	m.transcript.SetMessages(snap.Messages)

	m.statusBar.Connected = m.connected
	m.statusBar.Model = modelLabel(snap.Provider, snap.Model)
	m.statusBar.Thinking = snap.ThinkingLevel

	if snap.Status.Busy() {
		m.statusBar.Extra = m.spinner.View() + " " + workingLabel(snap)
		m.input.SetPlaceholder(steeringPlaceholder)
	} else {
		m.statusBar.Extra = ""
		m.input.SetPlaceholder(defaultPlaceholder)
	}
	return m
}

func workingLabel(snap stream.Snapshot) string {
	if snap.Working != "" {
		return snap.Working
	}
	return "Thinking..."
}

func modelLabel(provider, model string) string {
	if model == "" {
		return provider
	}
	if provider == "" {
		return model
	}
	return provider + "/" + model
}

// handleKey processes keyboard input not owned by the input area.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.snap.Status.Busy() {
			m.transcript.SetNotice(theme.TextMuted.Render("Aborting..."))
			return m, abortCmd(m.deps.Engine)
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit routes submitted input: slash commands act on the engine
// directly; plain text becomes a prompt when idle and steering while the
// agent is busy.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	m.transcript.SetNotice("")

	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}

	if m.snap.Status.Busy() {
		return m, steerCmd(m.deps.Engine, value)
	}
	return m, promptCmd(m.deps.Engine, value)
}

func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.transcript.SetNotice(helpText())
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/model":
		if len(args) < 1 {
			m.transcript.SetNotice(theme.TextMuted.Render("Usage: /model [provider/]model"))
			return m, nil
		}
		provider, model := splitModelArg(args[0])
		return m, setModelCmd(m.deps.Engine, provider, model)

	case "/thinking":
		if len(args) < 1 {
			m.transcript.SetNotice(theme.TextMuted.Render("Usage: /thinking off|low|medium|high"))
			return m, nil
		}
		return m, setThinkingCmd(m.deps.Engine, args[0])

	case "/compact":
		m.transcript.SetNotice(theme.TextMuted.Render("Compacting context..."))
		return m, compactCmd(m.deps.Engine, strings.Join(args, " "))

	case "/followup":
		if len(args) < 1 {
			m.transcript.SetNotice(theme.TextMuted.Render("Usage: /followup <message>"))
			return m, nil
		}
		return m, followUpCmd(m.deps.Engine, strings.Join(args, " "))

	case "/abort":
		if !m.snap.Status.Busy() {
			m.transcript.SetNotice(theme.TextMuted.Render("No active turn to abort."))
			return m, nil
		}
		return m, abortCmd(m.deps.Engine)

	case "/refresh":
		return m, refreshCmd(m.deps.Engine)

	default:
		m.transcript.SetNotice(theme.TextMuted.Render(
			"Unknown command: " + cmd + ". Type /help for available commands."))
		return m, nil
	}
}

// splitModelArg parses "provider/model" or a bare model name.
func splitModelArg(s string) (provider, model string) {
	if i := strings.Index(s, "/"); i > 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

func helpText() string {
	return theme.TextMuted.Render(`Available commands:
  /help              Show this help
  /model <m>         Switch model ([provider/]model)
  /thinking <level>  Set thinking level (off|low|medium|high)
  /compact [note]    Compact the conversation context
  /followup <msg>    Queue a message for after this turn
  /abort             Abort the current turn
  /refresh           Re-sync messages from the runner
  /quit              Exit forgechat

Keybindings:
  Enter              Send (steers while the agent is busy)
  Alt+Enter          New line
  Esc                Abort the current turn
  PgUp/PgDn          Scroll transcript
  Ctrl+C             Quit`)
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Esc", Desc: "Abort"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
