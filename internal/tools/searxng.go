// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// SEARXNG SEARCHER
// =============================================================================

// SearXNGSearcher queries the JSON API of a SearXNG instance
// (GET /search?q=...&format=json). The instance must have the json output
// format enabled.
type SearXNGSearcher struct {
	// BaseURL is the instance root, e.g. http://127.0.0.1:8888
	BaseURL string

	// Timeout is the maximum time for one request (default: 15s)
	Timeout time.Duration

	client *http.Client
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearXNGSearcher creates a searcher for the instance at baseURL.
func NewSearXNGSearcher(baseURL string, timeout time.Duration) *SearXNGSearcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGSearcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Searcher.
func (s *SearXNGSearcher) Name() string { return "searxng" }

// Search implements Searcher.
func (s *SearXNGSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if s.BaseURL == "" {
		return nil, ErrSearchNotConfigured
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, unavailable("bad search URL: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "rigrun-chat")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("HTTP %d from %s", resp.StatusCode, s.BaseURL)
	}

	// Read response body (limit to 5MB)
	var decoded searxngResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5*1024*1024)).Decode(&decoded); err != nil {
		return nil, unavailable("invalid response: %v", err)
	}

	results := make([]SearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		title := strings.TrimSpace(r.Title)
		if title == "" || r.URL == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     r.URL,
			Snippet: strings.TrimSpace(r.Content),
		})
	}
	return clampResults(results, maxResults), nil
}
