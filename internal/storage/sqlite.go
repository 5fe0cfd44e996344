// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps conversations in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int

	mu sync.Mutex
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and the pragmas below are
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:               db,
		path:             path,
		MaxConversations: DefaultMaxConversations,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(InitMetadata)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID. Messages are replaced
// wholesale inside one transaction.
func (s *SQLiteStore) Save(conv *StoredConversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareForSave(conv)

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(upsertConversationSQL,
		conv.ID, conv.Summary, conv.Model,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano()); err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return "", fmt.Errorf("failed to replace messages: %w", err)
	}

	stmt, err := tx.Prepare(insertMessageSQL)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, msg := range conv.Messages {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = conv.UpdatedAt
		}
		if _, err := stmt.Exec(conv.ID, i, msg.ID, msg.Role, msg.Content, ts.UnixNano(),
			nullString(msg.TurnID), nullString(msg.Outcome), nullString(msg.Reasoning),
			msg.DurationMs, msg.ToolUsed, nullString(msg.ToolLabel),
			msg.InputTokens, msg.OutputTokens); err != nil {
			return "", fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return conv.ID, nil
}

// enforceLimit removes the oldest conversations past the limit.
func (s *SQLiteStore) enforceLimit() {
	_, _ = s.db.Exec(`DELETE FROM conversations WHERE id IN (
		SELECT id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?)`,
		s.MaxConversations)
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *SQLiteStore) Load(id string) (*StoredConversation, error) {
	var (
		conv             StoredConversation
		created, updated int64
	)
	err := s.db.QueryRow(
		"SELECT id, summary, model, created_at, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&conv.ID, &conv.Summary, &conv.Model, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = fromUnixNano(created)
	conv.UpdatedAt = fromUnixNano(updated)

	rows, err := s.db.Query(`SELECT id, role, content, timestamp, turn_id, outcome,
		reasoning, duration_ms, tool_used, tool_label, input_tokens, output_tokens
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv.Messages = []StoredMessage{}
	for rows.Next() {
		var (
			msg                                   StoredMessage
			ts                                    int64
			turnID, outcome, reasoning, toolLabel sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &ts, &turnID, &outcome,
			&reasoning, &msg.DurationMs, &msg.ToolUsed, &toolLabel,
			&msg.InputTokens, &msg.OutputTokens); err != nil {
			return nil, err
		}
		msg.Timestamp = fromUnixNano(ts)
		msg.TurnID = turnID.String
		msg.Outcome = outcome.String
		msg.Reasoning = reasoning.String
		msg.ToolLabel = toolLabel.String
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all conversations, most recent first.
func (s *SQLiteStore) List() ([]ConversationMeta, error) {
	return s.queryMeta(selectMetaSQL + " ORDER BY c.updated_at DESC")
}

// Search finds conversations whose summary or message content contains
// query. SQLite LIKE folds ASCII case only.
func (s *SQLiteStore) Search(query string) ([]ConversationMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List()
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryMeta(selectMetaSQL+searchFilterSQL+" ORDER BY c.updated_at DESC", pattern, pattern)
}

func (s *SQLiteStore) queryMeta(query string, args ...any) ([]ConversationMeta, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := []ConversationMeta{}
	for rows.Next() {
		var (
			m                ConversationMeta
			created, updated int64
			preview          sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Summary, &m.Model, &created, &updated, &m.MessageCount, &preview); err != nil {
			return nil, err
		}
		m.CreatedAt = fromUnixNano(created)
		m.UpdatedAt = fromUnixNano(updated)
		if strings.TrimSpace(preview.String) != "" {
			m.Preview = util.TruncateRunes(util.OneLine(preview.String), 80)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return tx.Commit()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n)
}

// escapeLike escapes LIKE wildcards so query matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
