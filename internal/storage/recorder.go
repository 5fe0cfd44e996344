// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// Recorder keeps the running conversation for a chat session and persists
// it after every turn. Its Observer appends the assistant outcome:
// finalized text, the partial text of a cancelled turn, or the failure
// message of a failed one.
type Recorder struct {
	store Store
	log   zerolog.Logger

	mu      sync.Mutex
	conv    *StoredConversation
	lastErr error
}

// NewRecorder starts a new conversation. A nil store keeps the
// conversation in memory only.
func NewRecorder(store Store, model string) *Recorder {
	return ResumeRecorder(store, &StoredConversation{Model: model, Messages: []StoredMessage{}})
}

// ResumeRecorder continues a previously stored conversation.
func ResumeRecorder(store Store, conv *StoredConversation) *Recorder {
	return &Recorder{
		store: store,
		conv:  conv,
		log:   logging.Component("storage"),
	}
}

// ID returns the conversation ID, empty until the first save.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.ID
}

// SetModel records the model used for subsequent turns.
func (r *Recorder) SetModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv.Model = model
}

// AddUser appends a user message. It is saved together with the turn's
// outcome.
func (r *Recorder) AddUser(content string) {
	r.AddMessage(RoleUser, content)
}

// AddMessage appends a message supplied by the caller, such as history
// replayed from an API request.
func (r *Recorder) AddMessage(role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv.Messages = append(r.conv.Messages, StoredMessage{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// History returns the conversation as model input. Failed turns are left
// out since their text is an error message, not model output; cancelled
// turns keep whatever was shown.
func (r *Recorder) History() []ollama.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]ollama.Message, 0, len(r.conv.Messages))
	for _, m := range r.conv.Messages {
		if m.Role == RoleAssistant && (m.Outcome == engine.OutcomeFailed.String() || m.Content == "") {
			continue
		}
		msgs = append(msgs, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// Conversation returns a copy of the recorded conversation.
func (r *Recorder) Conversation() StoredConversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.conv
	c.Messages = append([]StoredMessage(nil), r.conv.Messages...)
	return c
}

// Err returns the last persistence error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Observer returns an engine observer that records each turn's outcome.
func (r *Recorder) Observer() engine.Observer {
	return engine.Callbacks{Complete: r.Record}
}

// Record appends the assistant message for out and saves the conversation.
func (r *Recorder) Record(out engine.Outcome) {
	content := out.VisibleText
	if out.Kind == engine.OutcomeFailed {
		content = out.Reason
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conv.Messages = append(r.conv.Messages, StoredMessage{
		ID:         NewMessageID(),
		Role:       RoleAssistant,
		Content:    content,
		Timestamp:  time.Now(),
		TurnID:     out.TurnID,
		Outcome:    out.Kind.String(),
		Reasoning:  out.ReasoningText,
		DurationMs: out.Duration.Milliseconds(),
		ToolUsed:   out.ToolUsed,
		ToolLabel:  out.ToolLabel,

		InputTokens:  out.Tokens.Input,
		OutputTokens: out.Tokens.Output,
	})

	if r.store == nil {
		return
	}
	if _, err := r.store.Save(r.conv); err != nil {
		r.lastErr = err
		r.log.Warn().Err(err).Str("turn_id", out.TurnID).Msg("failed to save conversation")
		return
	}
	r.lastErr = nil
	r.log.Debug().Str("conversation", r.conv.ID).Str("turn_id", out.TurnID).Msg("conversation saved")
}
