// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// StoredConversation represents a persisted conversation.
type StoredConversation struct {
	// Identity
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []StoredMessage `json:"messages"`
}

// StoredMessage represents a persisted message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user", "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Turn information (assistant messages)
	TurnID     string `json:"turn_id,omitempty"`
	Outcome    string `json:"outcome,omitempty"` // "finalized", "cancelled", "failed"
	Reasoning  string `json:"reasoning,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Tool information
	ToolUsed  bool   `json:"tool_used,omitempty"`
	ToolLabel string `json:"tool_label,omitempty"`

	// Token usage across the turn's rounds
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversations. Implementations are safe for concurrent use.
type Store interface {
	// Save persists a conversation and returns its ID, assigning one if empty
	Save(conv *StoredConversation) (string, error)

	// Load retrieves a conversation by ID
	Load(id string) (*StoredConversation, error)

	// List returns all conversations, most recently updated first
	List() ([]ConversationMeta, error)

	// Search returns conversations whose summary or any message contains
	// query, case-insensitively
	Search(query string) ([]ConversationMeta, error)

	// Delete removes a conversation by ID
	Delete(id string) error

	Close() error
}

// DefaultMaxConversations bounds how many conversations are kept.
const DefaultMaxConversations = 100

// Open creates the store for backend ("json" or "sqlite") rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "json":
		return NewConversationStoreWithDir(dir)
	case "sqlite":
		return OpenSQLiteStore(filepath.Join(dir, "conversations.db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// LoadByIndex loads a conversation by its index in the list (0 = most recent).
func LoadByIndex(s Store, index int) (*StoredConversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(metas) {
		return nil, ErrConversationNotFound
	}

	return s.Load(metas[index].ID)
}

// Resolve finds a conversation by ID, unique ID prefix, or 1-based list
// position as shown by FormatSessionList.
func Resolve(s Store, ref string) (*StoredConversation, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		return LoadByIndex(s, n-1)
	}

	conv, err := s.Load(ref)
	if err == nil || !IsNotFound(err) {
		return conv, err
	}

	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	var match string
	for _, m := range metas {
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return nil, fmt.Errorf("%q matches more than one conversation", ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return nil, ErrConversationNotFound
	}
	return s.Load(match)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// prepareForSave assigns an ID, a summary and timestamps.
func prepareForSave(conv *StoredConversation) {
	if conv.ID == "" {
		conv.ID = generateConversationID()
	}

	if conv.Summary == "" {
		conv.Summary = generateSummary(conv)
	}

	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}
}

// generateSummary creates a summary from the first user message.
func generateSummary(conv *StoredConversation) string {
	if preview := firstUserMessage(conv.Messages, 50); preview != "" {
		return preview
	}
	return "New conversation"
}

func firstUserMessage(msgs []StoredMessage, maxRunes int) string {
	for _, msg := range msgs {
		if msg.Role == RoleUser && strings.TrimSpace(msg.Content) != "" {
			return util.TruncateRunes(util.OneLine(msg.Content), maxRunes)
		}
	}
	return ""
}

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewMessageID creates a unique message ID.
func NewMessageID() string {
	return uuid.NewString()
}

func metaFor(conv *StoredConversation) ConversationMeta {
	return ConversationMeta{
		ID:           conv.ID,
		Summary:      conv.Summary,
		Model:        conv.Model,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
		Preview:      firstUserMessage(conv.Messages, 80),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// IsNotFound reports whether err means the conversation does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList formats conversations as a table with position, ID,
// last update, message count and preview.
func FormatSessionList(sessions []ConversationMeta) string {
	if len(sessions) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadWidth("#", 4) + " " +
		util.PadWidth("ID", 21) + " " +
		util.PadWidth("Updated", 16) + " " +
		util.PadWidth("Msgs", 5) + " Preview\n")

	for i, s := range sessions {
		preview := s.Preview
		if preview == "" {
			preview = s.Summary
		}
		sb.WriteString(util.PadWidth(strconv.Itoa(i+1), 4) + " " +
			util.PadWidth(s.ID, 21) + " " +
			util.PadWidth(humanize.Time(s.UpdatedAt), 16) + " " +
			util.PadWidth(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(preview, 40) + "\n")
	}
	return sb.String()
}

// =============================================================================
// SESSION EXPORT
// =============================================================================

// ExportMarkdown exports the conversation as a Markdown formatted string.
func (c *StoredConversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Summary + "\n\n")
	sb.WriteString("Conversation `" + c.ID + "`")
	if c.Model != "" {
		sb.WriteString(" with `" + c.Model + "`")
	}
	sb.WriteString(", started " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		if msg.Role == RoleAssistant {
			role = "**Assistant**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + ")")
		switch msg.Outcome {
		case "cancelled":
			sb.WriteString(" _cancelled_")
		case "failed":
			sb.WriteString(" _failed_")
		}
		sb.WriteString(":\n\n")
		if msg.ToolUsed && msg.ToolLabel != "" {
			sb.WriteString("> " + msg.ToolLabel + "\n\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON exports the conversation as a pretty-printed JSON byte array.
func (c *StoredConversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// MessageCount returns the number of messages in the conversation.
func (c *StoredConversation) MessageCount() int {
	return len(c.Messages)
}
