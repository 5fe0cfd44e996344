// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// Event types on the /api/turn stream.
const (
	EventState      = "state"
	EventReasoning  = "reasoning"
	EventContent    = "content"
	EventToolStart  = "tool_start"
	EventToolResult = "tool_result"
	EventError      = "error"
	EventDone       = "done"
)

// Event is one NDJSON line of a turn stream. Only the fields relevant to
// Type are set.
type Event struct {
	Type string `json:"type"`

	// state
	State string `json:"state,omitempty"`

	// reasoning, content
	Delta string `json:"delta,omitempty"`

	// content: the full visible text after this update
	Text       string `json:"text,omitempty"`
	Reset      bool   `json:"reset,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`

	// tool_start, tool_result
	Tool       string `json:"tool,omitempty"`
	Query      string `json:"query,omitempty"`
	Label      string `json:"label,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// error
	Reason string `json:"reason,omitempty"`

	// done
	Outcome *OutcomeEvent `json:"outcome,omitempty"`
}

// OutcomeEvent is the final summary of a turn.
type OutcomeEvent struct {
	Kind           string `json:"kind"`
	TurnID         string `json:"turn_id"`
	Text           string `json:"text"`
	Reasoning      string `json:"reasoning,omitempty"`
	ToolUsed       bool   `json:"tool_used"`
	ToolLabel      string `json:"tool_label,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Rounds         int    `json:"rounds"`
	DurationMs     int64  `json:"duration_ms"`
	ConversationID string `json:"conversation_id,omitempty"`

	Tokens engine.TokenCount `json:"tokens"`
}

// newOutcomeEvent converts an engine outcome.
func newOutcomeEvent(out engine.Outcome) *OutcomeEvent {
	return &OutcomeEvent{
		Kind:       out.Kind.String(),
		TurnID:     out.TurnID,
		Text:       out.VisibleText,
		Reasoning:  out.ReasoningText,
		ToolUsed:   out.ToolUsed,
		ToolLabel:  out.ToolLabel,
		Reason:     out.Reason,
		Rounds:     out.Rounds,
		DurationMs: out.Duration.Milliseconds(),
		Tokens:     out.Tokens,
	}
}

// ============================================================================
// NDJSON OBSERVER
// ============================================================================

// streamObserver writes engine events as NDJSON lines and flushes after
// each one. Write errors are remembered; the request context takes care of
// cancelling the turn when the client goes away.
type streamObserver struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	err     error
}

func newStreamObserver(w http.ResponseWriter) *streamObserver {
	f, _ := w.(http.Flusher)
	return &streamObserver{enc: json.NewEncoder(w), flusher: f}
}

func (o *streamObserver) send(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return
	}
	if err := o.enc.Encode(ev); err != nil {
		o.err = err
		return
	}
	if o.flusher != nil {
		o.flusher.Flush()
	}
}

func (o *streamObserver) OnState(s engine.State) {
	o.send(Event{Type: EventState, State: s.String()})
}

func (o *streamObserver) OnReasoning(delta string) {
	o.send(Event{Type: EventReasoning, Delta: delta})
}

func (o *streamObserver) OnContent(u engine.ContentUpdate) {
	o.send(Event{
		Type:       EventContent,
		Delta:      u.Delta,
		Text:       u.Visible,
		Reset:      u.Reset,
		Suppressed: u.Suppressed,
	})
}

func (o *streamObserver) OnToolStart(inv toolcall.Invocation) {
	ev := Event{Type: EventToolStart, Tool: inv.Kind().String()}
	if ws, ok := inv.(toolcall.WebSearch); ok {
		ev.Query = ws.Query
	}
	o.send(ev)
}

func (o *streamObserver) OnToolResult(res tools.Result) {
	success := res.Success
	o.send(Event{
		Type:       EventToolResult,
		Tool:       res.Kind.String(),
		Label:      res.Label,
		Success:    &success,
		DurationMs: res.Duration.Milliseconds(),
	})
}

func (o *streamObserver) OnError(reason string, err error) {
	o.send(Event{Type: EventError, Reason: reason})
}

// OnComplete is a no-op; the handler sends the done event itself once the
// conversation has been saved.
func (o *streamObserver) OnComplete(engine.Outcome) {}

func (o *streamObserver) done(out *OutcomeEvent) {
	o.send(Event{Type: EventDone, Outcome: out})
}
