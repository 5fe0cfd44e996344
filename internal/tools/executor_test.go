// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/toolcall"
)

// fakeSearcher returns canned results or an error.
type fakeSearcher struct {
	results []SearchResult
	err     error
	queries []string
	max     int
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	f.max = maxResults
	return f.results, f.err
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestExecute_CurrentDateTime(t *testing.T) {
	fixed := time.Date(2026, 10, 19, 13, 4, 0, 0, time.UTC)
	exec := NewExecutor(ExecutorConfig{
		Location: time.FixedZone("CEST", 2*60*60),
		Now:      func() time.Time { return fixed },
		Logger:   quietLogger(),
	})

	res := exec.Execute(context.Background(), toolcall.CurrentDateTime{})

	assert.True(t, res.Success)
	assert.Equal(t, toolcall.KindCurrentDateTime, res.Kind)
	assert.Equal(t, DateTimeLabel, res.Label)
	assert.Equal(t, "It is currently Monday, October 19, 2026 at 3:04 PM (CEST, UTC+02:00).", res.Text)
}

func TestExecute_CurrentDateTime_ReadsClockAtExecution(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	exec := NewExecutor(ExecutorConfig{
		Location: time.UTC,
		Now:      func() time.Time { return now },
		Logger:   quietLogger(),
	})

	first := exec.Execute(context.Background(), toolcall.CurrentDateTime{})
	now = now.Add(90 * time.Minute)
	second := exec.Execute(context.Background(), toolcall.CurrentDateTime{})

	assert.Contains(t, first.Text, "9:00 AM")
	assert.Contains(t, second.Text, "10:30 AM")
}

func TestExecute_CurrentDateTime_DefaultsToLocalZone(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := NewExecutor(ExecutorConfig{Now: func() time.Time { return fixed }, Logger: quietLogger()})

	res := exec.Execute(context.Background(), toolcall.CurrentDateTime{})
	assert.Equal(t, "It is currently "+fixed.In(time.Local).Format(dateTimeLayout)+".", res.Text)
}

func TestExecute_WebSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{
		{Title: "Lisbon weather", URL: "https://example.com/lisbon", Snippet: "Sunny,\n 24°C"},
		{Title: "Forecast", URL: "https://example.com/forecast"},
	}}
	exec := NewExecutor(ExecutorConfig{Searcher: searcher, MaxResults: 3, Logger: quietLogger()})

	res := exec.Execute(context.Background(), toolcall.WebSearch{Query: "weather in Lisbon"})

	require.True(t, res.Success)
	assert.Equal(t, toolcall.KindWebSearch, res.Kind)
	assert.Equal(t, `Searched the web for "weather in Lisbon"`, res.Label)
	assert.Equal(t, []string{"weather in Lisbon"}, searcher.queries)
	assert.Equal(t, 3, searcher.max)

	want := "Web search results for \"weather in Lisbon\":\n" +
		"\n1. Lisbon weather\n   https://example.com/lisbon\n   Sunny, 24°C\n" +
		"\n2. Forecast\n   https://example.com/forecast"
	assert.Equal(t, want, res.Text)
}

func TestExecute_WebSearch_ClampsResults(t *testing.T) {
	var results []SearchResult
	for i := 0; i < 8; i++ {
		results = append(results, SearchResult{Title: fmt.Sprintf("r%d", i), URL: "https://x"})
	}
	exec := NewExecutor(ExecutorConfig{Searcher: &fakeSearcher{results: results}, MaxResults: 2, Logger: quietLogger()})

	res := exec.Execute(context.Background(), toolcall.WebSearch{Query: "q"})
	assert.Contains(t, res.Text, "2. r1")
	assert.NotContains(t, res.Text, "3. r2")
}

func TestExecute_WebSearch_FailuresAreText(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		contains string
	}{
		{"no searcher", nil, "not configured"},
		{"not configured", &fakeSearcher{err: ErrSearchNotConfigured}, "not configured"},
		{"unreachable", &fakeSearcher{err: unavailable("dial tcp: connection refused")}, "could not be reached"},
		{"timeout", &fakeSearcher{err: context.DeadlineExceeded}, "did not finish in time"},
		{"no results", &fakeSearcher{}, "returned no results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewExecutor(ExecutorConfig{Searcher: tt.searcher, Logger: quietLogger()})
			res := exec.Execute(context.Background(), toolcall.WebSearch{Query: "golang"})

			assert.False(t, res.Success)
			assert.Contains(t, res.Text, tt.contains)
			assert.Contains(t, res.Text, `"golang"`)
			assert.Equal(t, SearchLabel("golang"), res.Label)
		})
	}
}

func TestExecutor_History(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Logger: quietLogger()})
	for i := 0; i < maxHistory+5; i++ {
		exec.Execute(context.Background(), toolcall.CurrentDateTime{})
	}
	exec.Execute(context.Background(), toolcall.WebSearch{Query: "x"})

	history := exec.History()
	require.Len(t, history, maxHistory)
	last := history[len(history)-1]
	assert.Equal(t, toolcall.KindWebSearch, last.Kind)
	assert.False(t, last.Success)
}

func TestFormatDigest_TruncatesSnippets(t *testing.T) {
	long := strings.Repeat("é", maxSnippetRunes+50)
	out := FormatDigest("q", []SearchResult{{Title: "t", URL: "u", Snippet: long}})
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.False(t, strings.Contains(out, strings.Repeat("é", maxSnippetRunes)))
}

func TestUnavailableWrapsSentinel(t *testing.T) {
	err := unavailable("HTTP %d", 502)
	assert.True(t, errors.Is(err, ErrSearchUnavailable))
	assert.Equal(t, "search service unavailable: HTTP 502", err.Error())
}
