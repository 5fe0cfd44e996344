// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Idle keep-alive connections of the shared transport.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("Hello")

	if msg.Role != "user" {
		t.Errorf("Role = %q, want 'user'", msg.Role)
	}

	if msg.Content != "Hello" {
		t.Errorf("Content = %q, want 'Hello'", msg.Content)
	}
}

func TestNewAssistantMessage(t *testing.T) {
	msg := NewAssistantMessage("Response")

	if msg.Role != "assistant" {
		t.Errorf("Role = %q, want 'assistant'", msg.Role)
	}

	if msg.Content != "Response" {
		t.Errorf("Content = %q, want 'Response'", msg.Content)
	}
}

func TestNewSystemMessage(t *testing.T) {
	msg := NewSystemMessage("You are a helpful assistant")

	if msg.Role != "system" {
		t.Errorf("Role = %q, want 'system'", msg.Role)
	}

	if msg.Content != "You are a helpful assistant" {
		t.Errorf("Content = %q", msg.Content)
	}
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestChatRequest_JSON(t *testing.T) {
	req := ChatRequest{
		Model:    "qwen3:8b",
		Messages: []Message{NewUserMessage("hi")},
		Stream:   true,
		Think:    false,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	// think is always sent so servers never fall back to their own default
	if v, ok := got["think"]; !ok || v != false {
		t.Errorf("think = %v (present %v), want false", v, ok)
	}
	if _, ok := got["options"]; ok {
		t.Errorf("options should be omitted when nil")
	}
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}

	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		if got := m.FormatSize(); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestStreamFragment_TokensPerSecond(t *testing.T) {
	f := StreamFragment{CompletionTokens: 100, EvalDuration: 2 * time.Second}
	if got := f.TokensPerSecond(); got != 50 {
		t.Errorf("TokensPerSecond() = %v, want 50", got)
	}

	if got := (StreamFragment{CompletionTokens: 10}).TokensPerSecond(); got != 0 {
		t.Errorf("TokensPerSecond() with zero duration = %v, want 0", got)
	}
}
