// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// PERFORMANCE: Pre-compiled regex (compiled once at startup)
// =============================================================================

var (
	// DuckDuckGo HTML parsing patterns
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)

	// HTML cleaning patterns for DuckDuckGo results
	ddgTagRegex        = regexp.MustCompile(`<[^>]*>`)
	ddgWhitespaceRegex = regexp.MustCompile(`\s+`)
)

const (
	ddgDefaultURL       = "https://html.duckduckgo.com/html/"
	ddgDefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// =============================================================================
// DUCKDUCKGO SEARCHER
// =============================================================================

// DuckDuckGoSearcher implements web search using DuckDuckGo HTML.
// No API key is required.
type DuckDuckGoSearcher struct {
	// BaseURL is the DuckDuckGo HTML search endpoint
	BaseURL string

	// Timeout is the maximum time for the request (default: 15s)
	Timeout time.Duration

	// UserAgent is the User-Agent header to send
	UserAgent string

	client *http.Client
}

// NewDuckDuckGoSearcher creates a searcher. An empty baseURL uses the public
// HTML endpoint.
func NewDuckDuckGoSearcher(baseURL string, timeout time.Duration) *DuckDuckGoSearcher {
	if baseURL == "" {
		baseURL = ddgDefaultURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGoSearcher{
		BaseURL:   baseURL,
		Timeout:   timeout,
		UserAgent: ddgDefaultUserAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
	}
}

// Name implements Searcher.
func (d *DuckDuckGoSearcher) Name() string { return "duckduckgo" }

// Search implements Searcher.
func (d *DuckDuckGoSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := d.BaseURL + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, unavailable("bad search URL: %v", err)
	}

	// Note: Don't set Accept-Encoding to gzip/deflate - Go's default http.Client
	// handles this automatically and decompresses. Manual Accept-Encoding breaks this.
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("HTTP %d from DuckDuckGo", resp.StatusCode)
	}

	// Read response body (limit to 5MB)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, unavailable("read response: %v", err)
	}

	return clampResults(parseDuckDuckGoHTML(string(body)), maxResults), nil
}

// parseDuckDuckGoHTML extracts search results from DuckDuckGo HTML.
//
// DuckDuckGo HTML structure (2024+):
//
//	<div class="result results_links results_links_deep web-result ">
//	  <h2 class="result__title">
//	    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	  </h2>
//	  <a class="result__snippet" href="...">Snippet text</a>
//	</div>
func parseDuckDuckGoHTML(page string) []SearchResult {
	titleMatches := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippetMatches := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	var results []SearchResult
	for i, match := range titleMatches {
		// DuckDuckGo uses &amp; for & in HTML - decode it for URL parsing
		actualURL := extractActualURL(strings.ReplaceAll(match[1], "&amp;", "&"))
		title := cleanHTML(match[2])
		if actualURL == "" || title == "" {
			continue
		}

		snippet := ""
		if i < len(snippetMatches) {
			snippet = cleanHTML(snippetMatches[i][1])
		}

		results = append(results, SearchResult{
			Title:   title,
			URL:     actualURL,
			Snippet: snippet,
		})
		if len(results) >= 20 {
			break
		}
	}

	return results
}

// extractActualURL extracts the real URL from DuckDuckGo's redirect wrapper.
// Format: //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com
func extractActualURL(ddgURL string) string {
	if strings.Contains(ddgURL, "uddg=") {
		if strings.HasPrefix(ddgURL, "//") {
			ddgURL = "https:" + ddgURL
		}
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		// Query().Get() already decodes the value
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}

	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}

	return ""
}

// cleanHTML removes HTML tags, decodes entities and collapses whitespace.
func cleanHTML(fragment string) string {
	text := ddgTagRegex.ReplaceAllString(fragment, "")
	text = html.UnescapeString(text)
	text = ddgWhitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
