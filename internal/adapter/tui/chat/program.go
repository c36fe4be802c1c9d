package chat

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"forgechat/internal/usecase/stream"
)

// UI owns the Bubble Tea program lifecycle and bridges engine callbacks
// into the update loop. PushSnapshot and PushConnState are safe to call
// from any goroutine, including before Run has started (pushes arriving
// that early are dropped; the model pulls the current state on Init).
type UI struct {
	deps    Deps
	program atomic.Pointer[tea.Program]
}

// New creates the UI shell. Wire PushSnapshot into the engine's OnUpdate
// and PushConnState into the transport's OnConnChange before calling Run.
func New(deps Deps) *UI {
	return &UI{deps: deps}
}

// AttachEngine sets the engine the UI drives. The shell is created before
// the engine so transport callbacks can be wired first; call this before
// Run.
func (u *UI) AttachEngine(engine *stream.Processor) {
	u.deps.Engine = engine
}

// PushSnapshot injects an engine snapshot into the update loop.
func (u *UI) PushSnapshot(snap stream.Snapshot) {
	if p := u.program.Load(); p != nil {
		p.Send(SnapshotMsg{Snapshot: snap})
	}
}

// PushConnState injects a transport connectivity change.
func (u *UI) PushConnState(connected bool) {
	if p := u.program.Load(); p != nil {
		p.Send(ConnMsg{Connected: connected})
	}
}

// Run starts the Bubble Tea program and blocks until it exits or ctx is
// cancelled.
func (u *UI) Run(ctx context.Context) error {
	program := tea.NewProgram(
		NewChatModel(u.deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	u.program.Store(program)
	defer u.program.Store(nil)

	go func() {
		<-ctx.Done()
		program.Send(QuitMsg{})
	}()

	_, err := program.Run()
	return err
}
