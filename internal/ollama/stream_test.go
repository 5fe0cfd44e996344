// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(body string) *StreamReader {
	return NewStreamReader(io.NopCloser(strings.NewReader(body)))
}

// drain reads fragments until an error and returns both.
func drain(t *testing.T, s *StreamReader) ([]StreamFragment, error) {
	t.Helper()
	var frags []StreamFragment
	for {
		frag, err := s.Next(context.Background())
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
}

// =============================================================================
// LINE DECODING TESTS
// =============================================================================

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name          string
		line          string
		wantOK        bool
		wantContent   string
		wantReasoning string
		wantDone      bool
	}{
		{"chat content", `{"message":{"role":"assistant","content":"Hi"}}`, true, "Hi", "", false},
		{"chat thinking", `{"message":{"role":"assistant","content":"","thinking":"hmm"}}`, true, "", "hmm", false},
		{"flat content", `{"content":"Hi"}`, true, "Hi", "", false},
		{"flat reasoning", `{"reasoning":"let me see"}`, true, "", "let me see", false},
		{"flat thinking", `{"thinking":"ok"}`, true, "", "ok", false},
		{"generate response", `{"response":"Hello"}`, true, "Hello", "", false},
		{"done only", `{"done":true}`, true, "", "", true},
		{"empty object", `{}`, true, "", "", false},
		{"malformed", `{"content":`, false, "", "", false},
		{"not an object", `["content"]`, false, "", "", false},
		{"plain text", `data: hello`, false, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, ok, err := decodeLine([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantContent, frag.Content)
			assert.Equal(t, tt.wantReasoning, frag.Reasoning)
			assert.Equal(t, tt.wantDone, frag.Done)
		})
	}
}

func TestDecodeLine_Statistics(t *testing.T) {
	line := `{"model":"qwen3:8b","done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":34,"eval_duration":2000000000}`
	frag, ok, err := decodeLine([]byte(line))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "qwen3:8b", frag.Model)
	assert.Equal(t, "stop", frag.DoneReason)
	assert.Equal(t, 12, frag.PromptTokens)
	assert.Equal(t, 34, frag.CompletionTokens)
	assert.Equal(t, 2*time.Second, frag.EvalDuration)
}

func TestDecodeLine_InBandError(t *testing.T) {
	_, ok, err := decodeLine([]byte(`{"error":"model requires more system memory"}`))
	assert.False(t, ok)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrTypeStream, clientErr.Type)
	assert.Equal(t, "model requires more system memory", clientErr.Message)
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_WireOrder(t *testing.T) {
	body := strings.Join([]string{
		`{"message":{"thinking":"a"}}`,
		`{"message":{"content":"b"}}`,
		`{"message":{"content":"c"}}`,
		`{"done":true}`,
		`{"message":{"content":"after done"}}`,
	}, "\n") + "\n"

	s := newTestReader(body)
	defer s.Close()

	frags, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frags, 4)
	assert.Equal(t, "a", frags[0].Reasoning)
	assert.Equal(t, "b", frags[1].Content)
	assert.Equal(t, "c", frags[2].Content)
	assert.True(t, frags[3].Done)
}

func TestStreamReader_SkipsMalformedLines(t *testing.T) {
	body := "{\"content\":\"one\"}\n" +
		"not json at all\n" +
		"\n" +
		"{\"content\":\n" +
		"{\"content\":\"two\"}\n" +
		"{\"done\":true}"

	s := newTestReader(body)
	defer s.Close()

	frags, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frags, 3)
	assert.Equal(t, "one", frags[0].Content)
	assert.Equal(t, "two", frags[1].Content)
	assert.True(t, frags[2].Done, "final line without newline must still be read")
	assert.Equal(t, int64(2), s.Skipped())
}

func TestStreamReader_EOFWithoutDone(t *testing.T) {
	s := newTestReader(`{"content":"partial"}` + "\n")
	defer s.Close()

	frags, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, frags, 1)
}

func TestStreamReader_ErrorLine(t *testing.T) {
	s := newTestReader("{\"content\":\"x\"}\n{\"error\":\"boom\"}\n{\"content\":\"y\"}\n")
	defer s.Close()

	frags, err := drain(t, s)
	require.Len(t, frags, 1)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrTypeStream, clientErr.Type)
}

func TestStreamReader_CloseUnblocksPendingRead(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStreamReader(pr)

	go func() {
		_, _ = pw.Write([]byte(`{"content":"first"}` + "\n"))
	}()

	frag, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", frag.Content)

	// Nothing more will be written; Close must release the blocked read.
	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	// Idempotent
	assert.NoError(t, s.Close())
	_ = pw.Close()
}

func TestStreamReader_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStreamReader(pr)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
