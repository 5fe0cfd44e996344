// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// Schema is the SQLite schema for the conversation store.
const Schema = `
-- Conversations
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    summary TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

-- Messages, ordered by seq within a conversation
CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    turn_id TEXT,
    outcome TEXT,
    reasoning TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    tool_used INTEGER NOT NULL DEFAULT 0,
    tool_label TEXT,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (conversation_id, seq),
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_role ON messages(conversation_id, role);

-- Metadata
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

// InitMetadata records the schema version.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`

const upsertConversationSQL = `
INSERT INTO conversations (id, summary, model, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    summary = excluded.summary,
    model = excluded.model,
    updated_at = excluded.updated_at
`

const insertMessageSQL = `
INSERT INTO messages (conversation_id, seq, id, role, content, timestamp,
    turn_id, outcome, reasoning, duration_ms, tool_used, tool_label,
    input_tokens, output_tokens)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectMetaSQL = `
SELECT c.id, c.summary, c.model, c.created_at, c.updated_at,
    (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
    (SELECT m.content FROM messages m
        WHERE m.conversation_id = c.id AND m.role = 'user'
        ORDER BY m.seq LIMIT 1)
FROM conversations c
`

const searchFilterSQL = `
WHERE c.summary LIKE ? ESCAPE '\'
   OR EXISTS (SELECT 1 FROM messages m
        WHERE m.conversation_id = c.id AND m.content LIKE ? ESCAPE '\')
`
