// Package chat implements the Bubble Tea chat UI on top of the session
// engine. The engine publishes coalesced snapshots; the UI is a pure
// renderer of the latest one plus a thin layer of local command feedback.
package chat

import "forgechat/internal/usecase/stream"

// SnapshotMsg delivers an engine snapshot into the Bubble Tea update loop.
type SnapshotMsg struct {
	Snapshot stream.Snapshot
}

// ConnMsg reports a transport connectivity change.
type ConnMsg struct {
	Connected bool
}

// NoticeMsg shows transient local feedback below the transcript.
type NoticeMsg struct {
	Text string
}

// CmdErrMsg reports a failed engine command.
type CmdErrMsg struct {
	Err error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
