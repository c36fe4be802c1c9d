package stream

import (
	"context"
	"encoding/json"
	"time"

	"forgechat/internal/domain"
	"forgechat/internal/usecase/normalize"
	"forgechat/internal/usecase/reconcile"
)

// handleEvent folds one runner event into session state. Events scoped to
// another session are dropped here so a stale subscription can never
// corrupt this one.
func (p *Processor) handleEvent(ev domain.Event) {
	if ev.SessionID != "" && ev.SessionID != p.sessionID {
		p.logger.Debug("dropping event for other session", "event", string(ev.Type), "other", ev.SessionID)
		return
	}

	switch ev.Type {
	case domain.EventStreamMessageStart:
		p.onMessageStart(ev)
	case domain.EventStreamTextDelta:
		p.onDelta(domain.PartText, ev.Delta)
	case domain.EventStreamThinking:
		p.onDelta(domain.PartThinking, ev.Delta)
	case domain.EventStreamToolStart:
		p.upsertToolCall(ev.ToolCallID, ev.Name, nil)
		p.forceFlush()
	case domain.EventStreamToolEnd:
		if ev.ToolCall != nil {
			p.upsertToolCall(ev.ToolCall.ID, ev.ToolCall.Name, ev.ToolCall.Input)
		}
		p.markFlush()
	case domain.EventToolStart:
		p.upsertToolCall(ev.ToolCallID, ev.Name, ev.Input)
		p.forceFlush()
	case domain.EventToolEnd:
		p.attachToolResult(ev)
		p.forceFlush()
	case domain.EventStreamMessageEnd:
		p.onMessageEnd(ev)
	case domain.EventStreamDone, domain.EventAgentIdle:
		p.onTurnDone()
	case domain.EventAgentWorking:
		p.working = workingLabel(ev)
		if p.status == domain.StatusIdle {
			p.status = domain.StatusAwaitingResponse
		}
		p.forceFlush()
	case domain.EventAgentError:
		p.onAgentError(ev)
	case domain.EventCompactStart:
		p.working = "compacting"
		p.forceFlush()
	case domain.EventCompactEnd:
		p.onCompactEnd(ev)
	case domain.EventModelChanged:
		p.cfg.Provider = ev.Provider
		p.cfg.Model = ev.ModelID
		p.forceFlush()
	case domain.EventThinkingChanged:
		p.thinkingLevel = ev.Level
		p.forceFlush()
	case domain.EventMessages:
		p.snapshotOrDefer(ev.Messages, reconcile.MergeAuthoritative)
	case domain.EventResponse:
		p.onUnsolicitedResponse(ev)
	default:
		p.logger.Debug("ignoring unknown event", "event", string(ev.Type))
	}
}

func workingLabel(ev domain.Event) string {
	if ev.Detail != "" {
		return ev.Detail
	}
	return ev.Phase
}

func (p *Processor) onMessageStart(ev domain.Event) {
	p.status = domain.StatusStreaming
	p.lastError = ""
	if p.streamingIdx >= 0 {
		// Duplicate start for the same turn; keep the open message.
		return
	}
	id := ev.MessageID
	if id == "" {
		id = p.ids.NextMessage()
	}
	p.messages = append(p.messages, domain.Message{
		ID:          id,
		Role:        domain.ParseRole(ev.Role),
		CreatedAt:   p.now().UnixMilli(),
		IsStreaming: true,
	})
	p.streamingIdx = len(p.messages) - 1
	p.forceFlush()
}

// ensureStreaming synthesizes a placeholder when deltas arrive before a
// message_start, which happens on mid-turn reconnects.
func (p *Processor) ensureStreaming() *domain.Message {
	if p.streamingIdx < 0 {
		p.messages = append(p.messages, domain.Message{
			ID:          p.ids.NextMessage(),
			Role:        domain.RoleAssistant,
			CreatedAt:   p.now().UnixMilli(),
			IsStreaming: true,
		})
		p.streamingIdx = len(p.messages) - 1
		p.status = domain.StatusStreaming
	}
	return &p.messages[p.streamingIdx]
}

func (p *Processor) onDelta(typ domain.PartType, delta string) {
	if delta == "" {
		return
	}
	m := p.ensureStreaming()
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == typ {
		m.Parts[n-1].Text += delta
	} else {
		m.Parts = append(m.Parts, domain.Part{
			ID:   p.ids.NextPart(),
			Type: typ,
			Text: delta,
		})
	}
	p.markFlush()
}

// upsertToolCall registers a tool invocation exactly once. The runner
// reports it twice, from the model stream and from the executor, and
// either may come first.
func (p *Processor) upsertToolCall(toolCallID, name string, input json.RawMessage) {
	if toolCallID == "" {
		return
	}
	m := p.ensureStreaming()
	if idx := m.FindToolCall(toolCallID); idx >= 0 {
		if len(m.Parts[idx].Input) == 0 && len(input) > 0 {
			m.Parts[idx].Input = input
		}
		if m.Parts[idx].Name == "" {
			m.Parts[idx].Name = name
		}
		return
	}
	m.Parts = append(m.Parts, domain.Part{
		ID:         p.ids.NextPart(),
		Type:       domain.PartToolCall,
		ToolCallID: toolCallID,
		Name:       name,
		Input:      input,
	})
}

// attachToolResult pairs a tool.end with its call: exact id first, then
// the most recent unresolved call with the same tool name, then a
// synthesized message so the output is never dropped.
func (p *Processor) attachToolResult(ev domain.Event) {
	part := domain.Part{
		ID:         p.ids.NextPart(),
		Type:       domain.PartToolResult,
		ToolCallID: ev.ToolCallID,
		Name:       ev.Name,
		Output:     ev.Output,
		IsError:    ev.IsError,
	}

	if part.ToolCallID != "" {
		for i := len(p.messages) - 1; i >= 0; i-- {
			m := &p.messages[i]
			if m.FindToolCall(part.ToolCallID) < 0 {
				continue
			}
			if m.HasToolResult(part.ToolCallID) {
				return // duplicate tool.end
			}
			m.Parts = appendPart(m.Parts, part)
			return
		}
	}

	if part.Name != "" {
		for i := len(p.messages) - 1; i >= 0; i-- {
			m := &p.messages[i]
			for j := len(m.Parts) - 1; j >= 0; j-- {
				pp := m.Parts[j]
				if pp.Type == domain.PartToolCall && pp.Name == part.Name && !m.HasToolResult(pp.ToolCallID) {
					part.ToolCallID = pp.ToolCallID
					m.Parts = appendPart(m.Parts, part)
					return
				}
			}
		}
	}

	p.messages = append(p.messages, domain.Message{
		ID:        p.ids.NextMessage(),
		Role:      domain.RoleAssistant,
		CreatedAt: p.now().UnixMilli(),
		Parts:     []domain.Part{part},
	})
}

// appendPart copies on write so snapshots already handed out never see
// the mutation.
func appendPart(parts []domain.Part, p domain.Part) []domain.Part {
	out := make([]domain.Part, len(parts), len(parts)+1)
	copy(out, parts)
	return append(out, p)
}

func (p *Processor) onMessageEnd(ev domain.Event) {
	final, ok := normalize.Message(ev.Message, p.ids)
	if !ok {
		p.finalizeStreaming()
		p.forceFlush()
		return
	}
	if p.streamingIdx >= 0 {
		cur := p.messages[p.streamingIdx]
		if final.ID == "" {
			final.ID = cur.ID
		}
		// Keep locally attached results the server message lacks.
		for _, part := range cur.Parts {
			if part.Type == domain.PartToolResult && !final.HasToolResult(part.ToolCallID) && final.FindToolCall(part.ToolCallID) >= 0 {
				final.Parts = append(final.Parts, part)
			}
		}
		p.messages[p.streamingIdx] = final
		p.streamingIdx = -1
	} else {
		p.messages = append(p.messages, final)
	}
	if p.onDone != nil {
		p.onDone(final.Clone())
	}
	p.forceFlush()
	p.saveNow()
}

func (p *Processor) finalizeStreaming() {
	if p.streamingIdx < 0 {
		return
	}
	m := &p.messages[p.streamingIdx]
	m.IsStreaming = false
	if p.onDone != nil {
		p.onDone(m.Clone())
	}
	p.streamingIdx = -1
}

func (p *Processor) onTurnDone() {
	// Apply any parked snapshot first, while the open message still
	// counts as streaming and therefore survives the merge.
	p.applyDeferred()
	p.finalizeStreaming()
	p.status = domain.StatusIdle
	p.sendInFlight = false
	p.working = ""
	p.forceFlush()
	p.saveNow()
}

func (p *Processor) onAgentError(ev domain.Event) {
	p.sendInFlight = false
	if domain.SessionNotFoundText(ev.Error) {
		p.tryRecover()
		return
	}
	if p.status == domain.StatusIdle && p.working == "" {
		// Background probe failure with nothing in flight; not worth
		// injecting into the conversation.
		p.logger.Debug("suppressing idle agent error", "error", ev.Error)
		return
	}
	p.applyDeferred()
	p.lastError = ev.Error
	p.status = domain.StatusError
	p.working = ""

	part := domain.Part{ID: p.ids.NextPart(), Type: domain.PartError, Text: ev.Error}
	if p.streamingIdx >= 0 {
		m := &p.messages[p.streamingIdx]
		m.Parts = appendPart(m.Parts, part)
		m.IsStreaming = false
		p.streamingIdx = -1
	} else {
		p.messages = append(p.messages, domain.Message{
			ID:        p.ids.NextMessage(),
			Role:      domain.RoleAssistant,
			CreatedAt: p.now().UnixMilli(),
			Parts:     []domain.Part{part},
		})
	}
	p.forceFlush()
	p.saveNow()
}

// tryRecover recreates a session the runner no longer knows, resuming
// from persisted agent state. Rate limited so a hard failure cannot loop.
func (p *Processor) tryRecover() {
	if !p.recovery.Allow() {
		p.logger.Warn("session recovery throttled")
		p.status = domain.StatusError
		p.lastError = "session lost"
		p.forceFlush()
		return
	}
	p.logger.Info("session not found, recreating")
	p.working = "recovering session"
	p.forceFlush()

	cfg := p.cfg
	cfg.ContinueSession = true
	sessionID := p.sessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ev, err := p.transport.Call(ctx, domain.Command{
			Cmd:       domain.CmdSessionCreate,
			SessionID: sessionID,
			Config:    &cfg,
		})
		if err != nil || !ev.Success {
			p.post(func() {
				p.working = ""
				p.status = domain.StatusError
				p.lastError = "session recovery failed"
				p.forceFlush()
			})
			return
		}
		var data struct {
			SessionID string `json:"session_id"`
		}
		if len(ev.Data) > 0 {
			_ = json.Unmarshal(ev.Data, &data)
		}
		p.post(func() {
			p.adoptSession(data.SessionID)
			p.working = ""
			if p.status == domain.StatusError {
				p.status = domain.StatusIdle
			}
			p.forceFlush()
		})
		go func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer rcancel()
			if err := p.RefreshMessages(rctx); err != nil {
				p.logger.Warn("post-recovery refresh failed", "error", err)
			}
		}()
	}()
}

func (p *Processor) onCompactEnd(ev domain.Event) {
	p.working = ""
	if ev.Success {
		p.messages = append(p.messages, domain.Message{
			ID:        p.ids.NextMessage(),
			Role:      domain.RoleSystem,
			CreatedAt: p.now().UnixMilli(),
			Parts: []domain.Part{{
				ID:   p.ids.NextPart(),
				Type: domain.PartCompaction,
				Text: "conversation compacted",
			}},
		})
	} else if ev.Error != "" {
		p.messages = append(p.messages, domain.Message{
			ID:        p.ids.NextMessage(),
			Role:      domain.RoleSystem,
			CreatedAt: p.now().UnixMilli(),
			Parts: []domain.Part{{
				ID:   p.ids.NextPart(),
				Type: domain.PartError,
				Text: "compaction failed: " + ev.Error,
			}},
		})
	}
	p.forceFlush()
	p.saveNow()
}

// onUnsolicitedResponse handles responses that arrive without a waiting
// Call, typically replays after a reconnect.
func (p *Processor) onUnsolicitedResponse(ev domain.Event) {
	if !ev.Success {
		return
	}
	switch ev.Cmd {
	case domain.CmdGetMessages:
		list, err := messageList(ev.Data)
		if err != nil {
			return
		}
		p.snapshotOrDefer(list, reconcile.MergeAuthoritative)
	case domain.CmdGetState:
		list, err := messageList(ev.Data)
		if err != nil || len(list) == 0 {
			return
		}
		// get_state windows are bounded; never treat them as the full
		// history.
		p.snapshotOrDefer(list, reconcile.MergePartial)
	}
}

// snapshotOrDefer applies a server history list, or parks it while a turn
// is active. Only the latest parked snapshot survives; it lands when the
// session next settles to idle.
func (p *Processor) snapshotOrDefer(list []json.RawMessage, mode reconcile.MergeMode) {
	if p.status.Busy() || p.sendInFlight {
		p.deferred = &pendingSnapshot{list: list, mode: mode}
		p.logger.Debug("deferring history snapshot", "count", len(list))
		return
	}
	p.applySnapshot(list, mode)
}

func (p *Processor) applyDeferred() {
	if p.deferred == nil {
		return
	}
	d := p.deferred
	p.deferred = nil
	p.applySnapshot(d.list, d.mode)
}

func (p *Processor) applySnapshot(list []json.RawMessage, mode reconcile.MergeMode) {
	server := normalize.Messages(list, p.ids)
	p.messages = reconcile.MergeServerMessages(p.messages, server, mode)

	// The streaming message may have moved, or been replaced outright.
	p.streamingIdx = -1
	for i := range p.messages {
		if p.messages[i].IsStreaming {
			p.streamingIdx = i
			break
		}
	}
	p.forceFlush()
	p.saveNow()
}
