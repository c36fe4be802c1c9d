// Package stream owns the per-session event loop: it folds runner events
// into an ordered message list, batches updates to subscribers, and keeps
// the persisted cache in step.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"forgechat/internal/domain"
	"forgechat/internal/usecase/normalize"
	"forgechat/internal/usecase/reconcile"
)

// Transport is the slice of the wire client the processor depends on.
type Transport interface {
	// Send writes a fire-and-forget command.
	Send(ctx context.Context, cmd domain.Command) error
	// Call writes a command carrying a correlation id and blocks for
	// the matching response event.
	Call(ctx context.Context, cmd domain.Command) (domain.Event, error)
	// Subscribe registers a handler for every inbound event and
	// returns an unsubscribe func.
	Subscribe(fn func(domain.Event)) func()
}

// Store persists session history between runs.
type Store interface {
	Load(sessionID string) (CachedSession, bool, error)
	Save(sessionID string, cs CachedSession) error
	Migrate(oldID, newID string) error
}

// CachedSession is the persisted shape of one session.
type CachedSession struct {
	Messages []domain.Message `json:"messages"`
	Counter  int64            `json:"counter"`
	Model    string           `json:"model,omitempty"`
	Provider string           `json:"provider,omitempty"`
}

// Snapshot is what subscribers receive on every flush. Messages is a
// fresh slice; the in-flight streaming message is deep-copied so its
// identity changes on every flush.
type Snapshot struct {
	SessionID     string
	Status        domain.SessionStatus
	Messages      []domain.Message
	Provider      string
	Model         string
	ThinkingLevel string
	Working       string
	LastError     string
}

// Options configures a Processor.
type Options struct {
	SessionID         string // provisional until session.create responds
	Config            domain.SessionConfig
	FlushInterval     time.Duration
	SaveInterval      time.Duration
	RecoveryInterval  time.Duration
	OnUpdate          func(Snapshot)
	OnMessageComplete func(domain.Message)
	Store             Store
	Logger            *slog.Logger
}

const (
	defaultSaveInterval     = 2 * time.Second
	defaultRecoveryInterval = 5 * time.Second
)

type intent struct {
	fn   func()
	done chan struct{}
}

type pendingSnapshot struct {
	list []json.RawMessage
	mode reconcile.MergeMode
}

// Processor drives one session. All state is confined to the Run loop
// goroutine; public methods marshal onto it through the intent channel.
type Processor struct {
	transport Transport
	store     Store
	logger    *slog.Logger
	onUpdate  func(Snapshot)
	onDone    func(domain.Message)

	sessionID     string
	cfg           domain.SessionConfig
	thinkingLevel string
	status        domain.SessionStatus
	lastError     string
	working       string

	messages     []domain.Message
	streamingIdx int
	sendInFlight bool
	deferred     *pendingSnapshot
	ids          *normalize.IDSource

	sched     *flushScheduler
	timer     *time.Timer
	saveEvery time.Duration
	lastSave  time.Time
	recovery  *rate.Limiter

	events  chan domain.Event
	intents chan intent
	closed  chan struct{}
	now     func() time.Time
}

// New builds a Processor. Run must be started before the command methods
// are used.
func New(t Transport, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "ses_" + ulid.Make().String()
	}
	saveEvery := opts.SaveInterval
	if saveEvery <= 0 {
		saveEvery = defaultSaveInterval
	}
	recoverEvery := opts.RecoveryInterval
	if recoverEvery <= 0 {
		recoverEvery = defaultRecoveryInterval
	}
	return &Processor{
		transport:    t,
		store:        opts.Store,
		logger:       logger.With("session_id", sessionID),
		onUpdate:     opts.OnUpdate,
		onDone:       opts.OnMessageComplete,
		sessionID:    sessionID,
		cfg:          opts.Config,
		status:       domain.StatusIdle,
		streamingIdx: -1,
		ids:          normalize.NewIDSource(sessionID, 0),
		sched:        newFlushScheduler(opts.FlushInterval),
		timer:        time.NewTimer(time.Hour),
		saveEvery:    saveEvery,
		recovery:     rate.NewLimiter(rate.Every(recoverEvery), 1),
		events:       make(chan domain.Event, 256),
		intents:      make(chan intent, 16),
		closed:       make(chan struct{}),
		now:          time.Now,
	}
}

// SessionID returns the current session id, read on the loop so a
// concurrent adoption cannot tear it. Requires Run to be active.
func (p *Processor) SessionID() string {
	var id string
	if err := p.do(context.Background(), func() { id = p.sessionID }); err != nil {
		return ""
	}
	return id
}

// Run processes events and intents until ctx is canceled. It must be
// called exactly once.
func (p *Processor) Run(ctx context.Context) error {
	unsub := p.transport.Subscribe(p.enqueue)
	defer unsub()
	defer close(p.closed)
	defer p.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.saveNow()
			return ctx.Err()
		case ev := <-p.events:
			p.handleEvent(ev)
		case it := <-p.intents:
			it.fn()
			if it.done != nil {
				close(it.done)
			}
		case <-p.timer.C:
			if p.sched.Fire(p.now()) {
				p.publish()
				p.maybeSave(false)
			}
		}
	}
}

func (p *Processor) enqueue(ev domain.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("event queue full, dropping event", "event", string(ev.Type))
	}
}

// post schedules fn on the loop without waiting.
func (p *Processor) post(fn func()) {
	select {
	case p.intents <- intent{fn: fn}:
	case <-p.closed:
	}
}

// do runs fn on the loop and waits for it to finish.
func (p *Processor) do(ctx context.Context, fn func()) error {
	it := intent{fn: fn, done: make(chan struct{})}
	select {
	case p.intents <- it:
	case <-p.closed:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-it.done:
		return nil
	case <-p.closed:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSession asks the runner for a session and adopts the id it
// returns, migrating cached history recorded under the provisional id.
func (p *Processor) CreateSession(ctx context.Context) error {
	var cfg domain.SessionConfig
	cmd := domain.Command{Cmd: domain.CmdSessionCreate}
	if err := p.do(ctx, func() {
		cfg = p.cfg
		cmd.SessionID = p.sessionID
	}); err != nil {
		return domain.WrapOp("session.create", err)
	}
	cmd.Config = &cfg
	ev, err := p.transport.Call(ctx, cmd)
	if err != nil {
		return domain.WrapOp("session.create", err)
	}
	if !ev.Success {
		return domain.WrapOpDetail("session.create", domain.ErrCommandRejected, ev.Error)
	}

	var data struct {
		SessionID string `json:"session_id"`
	}
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return domain.WrapOp("session.create", domain.ErrInvalidPayload)
		}
	}

	if err := p.do(ctx, func() { p.adoptSession(data.SessionID) }); err != nil {
		return err
	}
	return p.RefreshMessages(ctx)
}

// adoptSession runs on the loop: id migration plus cache restore.
func (p *Processor) adoptSession(serverID string) {
	if serverID != "" && serverID != p.sessionID {
		if p.store != nil {
			if err := p.store.Migrate(p.sessionID, serverID); err != nil {
				p.logger.Warn("cache migration failed", "error", err)
			}
		}
		p.sessionID = serverID
		p.logger = p.logger.With("session_id", serverID)
		p.ids = normalize.NewIDSource(serverID, p.ids.Counter())
	}
	if p.store == nil || len(p.messages) > 0 {
		return
	}
	cached, ok, err := p.store.Load(p.sessionID)
	if err != nil {
		p.logger.Warn("cache load failed", "error", err)
		return
	}
	if !ok {
		return
	}
	p.messages = cached.Messages
	if cached.Counter > p.ids.Counter() {
		p.ids = normalize.NewIDSource(p.sessionID, cached.Counter)
	}
	p.forceFlush()
}

// Prompt sends a user message. It returns the client correlation id
// attached to the optimistic echo. Transport failures roll the echo back
// and surface to the caller.
func (p *Processor) Prompt(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapOp("prompt", domain.ErrInvalidPayload)
	}
	var clientID string
	errCh := make(chan error, 1)
	if err := p.do(ctx, func() {
		if p.sendInFlight {
			errCh <- domain.WrapOp("prompt", domain.ErrSendInFlight)
			return
		}
		clientID = ulid.Make().String()
		p.appendUserEcho(text, clientID)
		p.sendInFlight = true
		p.status = domain.StatusAwaitingResponse
		p.forceFlush()

		cmd := domain.Command{
			Cmd:       domain.CmdPrompt,
			SessionID: p.sessionID,
			Message:   text,
			ClientID:  clientID,
		}
		go func() {
			err := p.transport.Send(ctx, cmd)
			if err != nil {
				p.post(func() { p.rollbackPrompt(clientID) })
			}
			errCh <- domain.WrapOp("prompt", err)
		}()
	}); err != nil {
		return "", err
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return clientID, nil
}

func (p *Processor) appendUserEcho(text, clientID string) {
	p.messages = append(p.messages, domain.Message{
		ID:        p.ids.NextMessage(),
		Role:      domain.RoleUser,
		ClientID:  clientID,
		CreatedAt: p.now().UnixMilli(),
		Parts: []domain.Part{{
			ID:   p.ids.NextPart(),
			Type: domain.PartText,
			Text: text,
		}},
	})
}

func (p *Processor) rollbackPrompt(clientID string) {
	p.removeEcho(clientID)
	p.sendInFlight = false
	if p.status == domain.StatusAwaitingResponse {
		p.status = domain.StatusIdle
	}
	p.forceFlush()
}

func (p *Processor) removeEcho(clientID string) {
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].ClientID == clientID {
			p.messages = append(p.messages[:i:i], p.messages[i+1:]...)
			return
		}
	}
}

// Steer injects user guidance into the current turn. Legal while the
// agent is working; the echo is appended like a prompt but without the
// in-flight gate.
func (p *Processor) Steer(ctx context.Context, text string) error {
	return p.sendEchoed(ctx, domain.CmdSteer, text)
}

// FollowUp queues a message to run after the current turn completes.
func (p *Processor) FollowUp(ctx context.Context, text string) error {
	return p.sendEchoed(ctx, domain.CmdFollowUp, text)
}

func (p *Processor) sendEchoed(ctx context.Context, cmdName, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.WrapOp(cmdName, domain.ErrInvalidPayload)
	}
	clientID := ulid.Make().String()
	cmd := domain.Command{
		Cmd:      cmdName,
		Message:  text,
		ClientID: clientID,
	}
	if err := p.do(ctx, func() {
		p.appendUserEcho(text, clientID)
		p.forceFlush()
		cmd.SessionID = p.sessionID
	}); err != nil {
		return err
	}
	err := p.transport.Send(ctx, cmd)
	if err != nil {
		p.post(func() {
			p.removeEcho(clientID)
			p.forceFlush()
		})
	}
	return domain.WrapOp(cmdName, err)
}

// Abort cancels the current turn. The local view settles to idle
// immediately; a late agent.idle is a harmless no-op.
func (p *Processor) Abort(ctx context.Context) error {
	var busy bool
	cmd := domain.Command{Cmd: domain.CmdAbort}
	if err := p.do(ctx, func() {
		busy = p.status.Busy() || p.sendInFlight
		if !busy {
			return
		}
		p.finalizeStreaming()
		p.status = domain.StatusIdle
		p.sendInFlight = false
		p.working = ""
		p.forceFlush()
		p.saveNow()
		cmd.SessionID = p.sessionID
	}); err != nil {
		return err
	}
	if !busy {
		return nil
	}
	err := p.transport.Send(ctx, cmd)
	return domain.WrapOp("abort", err)
}

// Compact asks the runner to compact the conversation context.
func (p *Processor) Compact(ctx context.Context, instructions string) error {
	cmd := domain.Command{Cmd: domain.CmdCompact, Instructions: instructions}
	if err := p.stampSessionID(ctx, &cmd); err != nil {
		return domain.WrapOp("compact", err)
	}
	err := p.transport.Send(ctx, cmd)
	return domain.WrapOp("compact", err)
}

// SetModel switches the provider/model pair for subsequent turns.
func (p *Processor) SetModel(ctx context.Context, provider, modelID string) error {
	cmd := domain.Command{
		Cmd:      domain.CmdSetModel,
		Provider: provider,
		ModelID:  modelID,
	}
	if err := p.stampSessionID(ctx, &cmd); err != nil {
		return domain.WrapOp("set_model", err)
	}
	err := p.transport.Send(ctx, cmd)
	return domain.WrapOp("set_model", err)
}

// SetThinkingLevel adjusts reasoning effort for subsequent turns.
func (p *Processor) SetThinkingLevel(ctx context.Context, level string) error {
	cmd := domain.Command{Cmd: domain.CmdSetThinkingLevel, Level: level}
	if err := p.stampSessionID(ctx, &cmd); err != nil {
		return domain.WrapOp("set_thinking_level", err)
	}
	err := p.transport.Send(ctx, cmd)
	return domain.WrapOp("set_thinking_level", err)
}

// stampSessionID fills in the command's session id on the loop goroutine.
// The id is rewritten by adoptSession during create and recovery, so
// caller goroutines must never read it directly.
func (p *Processor) stampSessionID(ctx context.Context, cmd *domain.Command) error {
	return p.do(ctx, func() { cmd.SessionID = p.sessionID })
}

// RefreshMessages fetches the full history and reconciles it in. While a
// turn is active the result is parked and applied on the next idle.
func (p *Processor) RefreshMessages(ctx context.Context) error {
	cmd := domain.Command{Cmd: domain.CmdGetMessages}
	if err := p.stampSessionID(ctx, &cmd); err != nil {
		return domain.WrapOp("get_messages", err)
	}
	ev, err := p.transport.Call(ctx, cmd)
	if err != nil {
		return domain.WrapOp("get_messages", err)
	}
	if !ev.Success {
		return domain.WrapOpDetail("get_messages", domain.ErrCommandRejected, ev.Error)
	}
	list, err := messageList(ev.Data)
	if err != nil {
		return domain.WrapOp("get_messages", err)
	}
	return p.do(ctx, func() {
		p.snapshotOrDefer(list, reconcile.MergeAuthoritative)
	})
}

// CloseSession tells the runner to drop the session. Best effort; the
// loop itself stops when Run's context is canceled.
func (p *Processor) CloseSession(ctx context.Context) error {
	cmd := domain.Command{Cmd: domain.CmdSessionClose}
	if err := p.stampSessionID(ctx, &cmd); err != nil {
		return domain.WrapOp("session.close", err)
	}
	err := p.transport.Send(ctx, cmd)
	return domain.WrapOp("session.close", err)
}

// Current returns a point-in-time snapshot.
func (p *Processor) Current(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := p.do(ctx, func() { snap = p.snapshot() })
	return snap, err
}

func messageList(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return payload.Messages, nil
}

func (p *Processor) snapshot() Snapshot {
	msgs := make([]domain.Message, len(p.messages))
	copy(msgs, p.messages)
	if p.streamingIdx >= 0 && p.streamingIdx < len(msgs) {
		msgs[p.streamingIdx] = p.messages[p.streamingIdx].Clone()
	}
	return Snapshot{
		SessionID:     p.sessionID,
		Status:        p.status,
		Messages:      msgs,
		Provider:      p.cfg.Provider,
		Model:         p.cfg.Model,
		ThinkingLevel: p.thinkingLevel,
		Working:       p.working,
		LastError:     p.lastError,
	}
}

func (p *Processor) publish() {
	if p.onUpdate == nil {
		return
	}
	p.onUpdate(p.snapshot())
}

func (p *Processor) markFlush() {
	flush, wait := p.sched.Mark(p.now())
	if flush {
		p.publish()
		p.maybeSave(false)
		return
	}
	if wait > 0 {
		p.timer.Reset(wait)
	}
}

func (p *Processor) forceFlush() {
	p.sched.Force(p.now())
	p.publish()
}

func (p *Processor) maybeSave(force bool) {
	if p.store == nil {
		return
	}
	now := p.now()
	if !force && now.Sub(p.lastSave) < p.saveEvery {
		return
	}
	p.lastSave = now
	cs := CachedSession{
		Messages: p.messages,
		Counter:  p.ids.Counter(),
		Model:    p.cfg.Model,
		Provider: p.cfg.Provider,
	}
	if err := p.store.Save(p.sessionID, cs); err != nil {
		p.logger.Warn("cache save failed", "error", err)
	}
}

func (p *Processor) saveNow() { p.maybeSave(true) }
