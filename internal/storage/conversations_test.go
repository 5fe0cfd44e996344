// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// backends runs fn against both store implementations.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(backend, t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func sampleConversation(first string) *StoredConversation {
	now := time.Now()
	return &StoredConversation{
		Model: "test-model",
		Messages: []StoredMessage{
			{ID: "msg1", Role: RoleUser, Content: first, Timestamp: now},
			{
				ID: "msg2", Role: RoleAssistant, Content: "It is sunny in Lisbon.", Timestamp: now,
				TurnID: "turn-1", Outcome: "finalized", Reasoning: "look it up",
				DurationMs: 1200, ToolUsed: true, ToolLabel: `Searched the web for "weather"`,
				InputTokens: 310, OutputTokens: 42,
			},
		},
	}
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStore_SaveAndLoad(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		id, err := s.Save(sampleConversation("What's the weather?"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "conv_"), "id %q", id)

		loaded, err := s.Load(id)
		require.NoError(t, err)

		assert.Equal(t, id, loaded.ID)
		assert.Equal(t, "test-model", loaded.Model)
		assert.Equal(t, "What's the weather?", loaded.Summary)
		require.Len(t, loaded.Messages, 2)

		reply := loaded.Messages[1]
		assert.Equal(t, RoleAssistant, reply.Role)
		assert.Equal(t, "finalized", reply.Outcome)
		assert.Equal(t, "turn-1", reply.TurnID)
		assert.Equal(t, "look it up", reply.Reasoning)
		assert.Equal(t, int64(1200), reply.DurationMs)
		assert.True(t, reply.ToolUsed)
		assert.Equal(t, `Searched the web for "weather"`, reply.ToolLabel)
		assert.Equal(t, 310, reply.InputTokens)
		assert.Equal(t, 42, reply.OutputTokens)
		assert.False(t, loaded.CreatedAt.IsZero())
	})
}

func TestStore_SaveReplacesMessages(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		conv := sampleConversation("first")
		id, err := s.Save(conv)
		require.NoError(t, err)
		created := conv.CreatedAt

		conv.Messages = append(conv.Messages, StoredMessage{ID: "msg3", Role: RoleUser, Content: "second", Timestamp: time.Now()})
		id2, err := s.Save(conv)
		require.NoError(t, err)
		assert.Equal(t, id, id2)

		loaded, err := s.Load(id)
		require.NoError(t, err)
		require.Len(t, loaded.Messages, 3)
		assert.Equal(t, "second", loaded.Messages[2].Content)
		assert.True(t, loaded.CreatedAt.Equal(created))

		metas, err := s.List()
		require.NoError(t, err)
		assert.Len(t, metas, 1)
	})
}

func TestStore_LoadNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.Load("conv_missing")
		assert.True(t, errors.Is(err, ErrConversationNotFound))
		assert.True(t, IsNotFound(err))
	})
}

func TestStore_ListNewestFirst(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		for _, q := range []string{"oldest", "middle", "newest"} {
			_, err := s.Save(sampleConversation(q))
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}

		metas, err := s.List()
		require.NoError(t, err)
		require.Len(t, metas, 3)
		assert.Equal(t, "newest", metas[0].Preview)
		assert.Equal(t, "oldest", metas[2].Preview)
		assert.Equal(t, 2, metas[0].MessageCount)
	})
}

func TestStore_Search(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.Save(sampleConversation("Tell me about Go"))
		require.NoError(t, err)
		_, err = s.Save(sampleConversation("Recipe for bread"))
		require.NoError(t, err)

		// summary
		results, err := s.Search("GO")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Tell me about Go", results[0].Summary)

		// assistant message content
		results, err = s.Search("lisbon")
		require.NoError(t, err)
		assert.Len(t, results, 2)

		// wildcards match literally
		results, err = s.Search("100%")
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = s.Search("")
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestStore_Delete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		id, err := s.Save(sampleConversation("delete me"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(id))

		_, err = s.Load(id)
		assert.ErrorIs(t, err, ErrConversationNotFound)
		assert.ErrorIs(t, s.Delete(id), ErrConversationNotFound)
	})
}

func TestStore_EnforceLimit(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(backend, t.TempDir())
			require.NoError(t, err)
			defer s.Close()

			switch st := s.(type) {
			case *ConversationStore:
				st.MaxConversations = 2
			case *SQLiteStore:
				st.MaxConversations = 2
			}

			var ids []string
			for _, q := range []string{"a", "b", "c"} {
				id, err := s.Save(sampleConversation(q))
				require.NoError(t, err)
				ids = append(ids, id)
				time.Sleep(5 * time.Millisecond)
			}

			metas, err := s.List()
			require.NoError(t, err)
			require.Len(t, metas, 2)
			_, err = s.Load(ids[0])
			assert.ErrorIs(t, err, ErrConversationNotFound)
		})
	}
}

func TestResolve(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		older, err := s.Save(sampleConversation("older"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		newer, err := s.Save(sampleConversation("newer"))
		require.NoError(t, err)

		conv, err := Resolve(s, "1")
		require.NoError(t, err)
		assert.Equal(t, newer, conv.ID)

		conv, err = Resolve(s, "2")
		require.NoError(t, err)
		assert.Equal(t, older, conv.ID)

		conv, err = Resolve(s, older)
		require.NoError(t, err)
		assert.Equal(t, older, conv.ID)

		conv, err = Resolve(s, older[:12])
		require.NoError(t, err)
		assert.Equal(t, older, conv.ID)

		_, err = Resolve(s, "3")
		assert.ErrorIs(t, err, ErrConversationNotFound)

		_, err = Resolve(s, "conv_")
		assert.Error(t, err)
	})
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("postgres", t.TempDir())
	assert.Error(t, err)
}

func TestOpen_SQLiteCreatesDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := Open("sqlite", dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "conversations.db"))
	assert.NoError(t, err)
}

// =============================================================================
// JSON STORE SPECIFICS
// =============================================================================

func TestConversationStore_SkipsCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewConversationStoreWithDir(dir)
	require.NoError(t, err)

	_, err = s.Save(sampleConversation("valid"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conv_broken.json"), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	metas, err := s.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestConversationStore_RejectsPathIDs(t *testing.T) {
	s, err := NewConversationStoreWithDir(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("../etc/passwd")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, s.Delete(".."), ErrConversationNotFound)
}

// =============================================================================
// SUMMARY AND FORMATTING
// =============================================================================

func TestGenerateSummary(t *testing.T) {
	tests := []struct {
		name     string
		messages []StoredMessage
		want     string
	}{
		{"empty", nil, "New conversation"},
		{"assistant only", []StoredMessage{{Role: RoleAssistant, Content: "hi"}}, "New conversation"},
		{"newlines collapsed", []StoredMessage{{Role: RoleUser, Content: "line one\nline two"}}, "line one line two"},
		{"truncated", []StoredMessage{{Role: RoleUser, Content: strings.Repeat("日", 60)}}, strings.Repeat("日", 47) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generateSummary(&StoredConversation{Messages: tt.messages})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No conversations found.", FormatSessionList(nil))

	out := FormatSessionList([]ConversationMeta{
		{ID: "conv_0123456789abcdef", UpdatedAt: time.Now().Add(-2 * time.Hour), MessageCount: 4, Preview: "What's the weather?"},
		{ID: "conv_fedcba9876543210", UpdatedAt: time.Now(), MessageCount: 2, Summary: "fallback summary"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1 "))
	assert.Contains(t, lines[1], "conv_0123456789abcdef")
	assert.Contains(t, lines[1], "2 hours ago")
	assert.Contains(t, lines[1], "What's the weather?")
	assert.Contains(t, lines[2], "fallback summary")
}

func TestExportMarkdown(t *testing.T) {
	conv := sampleConversation("What's the weather?")
	conv.ID = "conv_x"
	conv.Summary = "Weather"
	conv.Messages = append(conv.Messages, StoredMessage{Role: RoleAssistant, Content: "partial", Outcome: "cancelled"})

	md := conv.ExportMarkdown()
	assert.True(t, strings.HasPrefix(md, "# Weather\n"))
	assert.Contains(t, md, "`test-model`")
	assert.Contains(t, md, "> Searched the web for \"weather\"")
	assert.Contains(t, md, "_cancelled_")

	data, err := conv.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_used": true`)
	assert.Equal(t, 3, conv.MessageCount())
}

// =============================================================================
// RECORDER
// =============================================================================

func TestRecorder_PersistsTurns(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		rec := NewRecorder(s, "qwen3:8b")
		assert.Empty(t, rec.ID())

		rec.AddUser("what time is it?")
		obs := rec.Observer()
		obs.OnComplete(engine.Outcome{
			Kind: engine.OutcomeFinalized, TurnID: "t1", VisibleText: "It is 3 PM.",
			ToolUsed: true, ToolLabel: "Checked the current date and time", Duration: 2 * time.Second,
			Tokens: engine.TokenCount{Input: 120, Output: 18},
		})
		require.NoError(t, rec.Err())
		require.NotEmpty(t, rec.ID())

		rec.AddUser("and tomorrow?")
		obs.OnComplete(engine.Outcome{Kind: engine.OutcomeCancelled, TurnID: "t2", VisibleText: "Tomorrow is"})

		rec.AddUser("again")
		obs.OnComplete(engine.Outcome{Kind: engine.OutcomeFailed, TurnID: "t3", VisibleText: "", Reason: "The request timed out."})

		loaded, err := s.Load(rec.ID())
		require.NoError(t, err)
		require.Len(t, loaded.Messages, 6)
		assert.Equal(t, "qwen3:8b", loaded.Model)

		assert.Equal(t, "It is 3 PM.", loaded.Messages[1].Content)
		assert.True(t, loaded.Messages[1].ToolUsed)
		assert.Equal(t, int64(2000), loaded.Messages[1].DurationMs)
		assert.Equal(t, 120, loaded.Messages[1].InputTokens)
		assert.Equal(t, 18, loaded.Messages[1].OutputTokens)
		assert.Equal(t, "cancelled", loaded.Messages[3].Outcome)
		assert.Equal(t, "Tomorrow is", loaded.Messages[3].Content)
		assert.Equal(t, "failed", loaded.Messages[5].Outcome)
		assert.Equal(t, "The request timed out.", loaded.Messages[5].Content)

		assert.Equal(t, []ollama.Message{
			{Role: "user", Content: "what time is it?"},
			{Role: "assistant", Content: "It is 3 PM."},
			{Role: "user", Content: "and tomorrow?"},
			{Role: "assistant", Content: "Tomorrow is"},
			{Role: "user", Content: "again"},
		}, rec.History())
	})
}

func TestRecorder_Resume(t *testing.T) {
	s, err := NewConversationStoreWithDir(t.TempDir())
	require.NoError(t, err)

	id, err := s.Save(sampleConversation("earlier question"))
	require.NoError(t, err)
	conv, err := s.Load(id)
	require.NoError(t, err)

	rec := ResumeRecorder(s, conv)
	rec.AddUser("follow up")
	rec.Record(engine.Outcome{Kind: engine.OutcomeFinalized, VisibleText: "answer"})

	assert.Equal(t, id, rec.ID())
	loaded, err := s.Load(id)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 4)
	assert.Len(t, rec.History(), 4)
}

func TestRecorder_InMemory(t *testing.T) {
	rec := NewRecorder(nil, "m")
	rec.AddUser("hi")
	rec.Record(engine.Outcome{Kind: engine.OutcomeFinalized, VisibleText: "hello"})

	assert.NoError(t, rec.Err())
	assert.Empty(t, rec.ID())
	assert.Len(t, rec.Conversation().Messages, 2)
}

type failingStore struct{ Store }

func (failingStore) Save(*StoredConversation) (string, error) {
	return "", errors.New("disk full")
}

func TestRecorder_SaveErrorIsKept(t *testing.T) {
	rec := NewRecorder(failingStore{}, "m")
	rec.AddUser("hi")
	rec.Record(engine.Outcome{Kind: engine.OutcomeFinalized, VisibleText: "hello"})

	assert.EqualError(t, rec.Err(), "disk full")
	assert.Len(t, rec.History(), 2)
}
