// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// SEARCHER INTERFACE
// =============================================================================

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher queries a web search backend. Implementations return results in
// rank order, at most maxResults of them.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
	Name() string
}

var (
	// ErrSearchNotConfigured means no search backend is set up.
	ErrSearchNotConfigured = errors.New("web search is not configured")

	// ErrSearchUnavailable means the backend could not be reached or
	// answered with an error.
	ErrSearchUnavailable = errors.New("search service unavailable")
)

// unavailable wraps a backend failure so callers can match it with
// errors.Is(err, ErrSearchUnavailable).
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSearchUnavailable, fmt.Sprintf(format, args...))
}

// =============================================================================
// DIGEST FORMATTING
// =============================================================================

// maxSnippetRunes bounds each snippet in the digest.
const maxSnippetRunes = 300

// FormatDigest renders results as a numbered list the model can cite.
func FormatDigest(query string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			// UNICODE: Rune-aware truncation preserves multi-byte characters
			fmt.Fprintf(&b, "   %s\n", util.TruncateRunes(util.OneLine(snippet), maxSnippetRunes))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// clampResults keeps the first n results.
func clampResults(results []SearchResult, n int) []SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
