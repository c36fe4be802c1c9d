package domain

// Command names accepted by the agent runner.
const (
	CmdSessionCreate    = "session.create"
	CmdSessionClose     = "session.close"
	CmdPrompt           = "prompt"
	CmdSteer            = "steer"
	CmdFollowUp         = "follow_up"
	CmdAbort            = "abort"
	CmdCompact          = "compact"
	CmdGetState         = "get_state"
	CmdGetMessages      = "get_messages"
	CmdSetModel         = "set_model"
	CmdSetThinkingLevel = "set_thinking_level"
)

// SessionConfig is the payload for session.create.
type SessionConfig struct {
	Harness         string `json:"harness"`
	Cwd             string `json:"cwd"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	ContinueSession bool   `json:"continue_session,omitempty"`
}

// Command is an outbound frame. ID is set when the sender expects a
// correlated response event; fire-and-forget commands leave it empty.
type Command struct {
	Cmd       string `json:"cmd"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Config       *SessionConfig `json:"config,omitempty"`
	Message      string         `json:"message,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	ModelID      string         `json:"model_id,omitempty"`
	Level        string         `json:"level,omitempty"`
}
