package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"forgechat/internal/usecase/stream"
)

// engineCallTimeout bounds every engine call issued from the UI. The
// engine's own transport timeout is usually shorter; this is the backstop
// that keeps a tea.Cmd goroutine from hanging forever.
const engineCallTimeout = 45 * time.Second

// engineCmd runs an engine call in a background goroutine and reports
// failure as a CmdErrMsg. Success produces no message: the resulting
// state change arrives as a SnapshotMsg from the engine.
func engineCmd(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return CmdErrMsg{Err: err}
		}
		return nil
	}
}

func promptCmd(engine *stream.Processor, text string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		_, err := engine.Prompt(ctx, text)
		return err
	})
}

func steerCmd(engine *stream.Processor, text string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		return engine.Steer(ctx, text)
	})
}

func followUpCmd(engine *stream.Processor, text string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		return engine.FollowUp(ctx, text)
	})
}

func abortCmd(engine *stream.Processor) tea.Cmd {
	return engineCmd(engine.Abort)
}

func compactCmd(engine *stream.Processor, instructions string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		return engine.Compact(ctx, instructions)
	})
}

func setModelCmd(engine *stream.Processor, provider, model string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		return engine.SetModel(ctx, provider, model)
	})
}

func setThinkingCmd(engine *stream.Processor, level string) tea.Cmd {
	return engineCmd(func(ctx context.Context) error {
		return engine.SetThinkingLevel(ctx, level)
	})
}

func refreshCmd(engine *stream.Processor) tea.Cmd {
	return engineCmd(engine.RefreshMessages)
}

// initialSnapshotCmd fetches the current engine state so the transcript is
// populated before the first flush arrives.
func initialSnapshotCmd(engine *stream.Processor) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
		defer cancel()
		snap, err := engine.Current(ctx)
		if err != nil {
			return nil
		}
		return SnapshotMsg{Snapshot: snap}
	}
}
