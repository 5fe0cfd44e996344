// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
)

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of one tool execution. Text is always set, even on
// failure, because it is fed back to the model verbatim.
type Result struct {
	// Kind of the executed action
	Kind toolcall.Kind

	// Text is the plain-text result injected into the continuation
	Text string

	// Label is a short human-readable description for the UI
	Label string

	// Success is false when the action could not produce real data
	Success bool

	// Duration is how long the execution took
	Duration time.Duration
}

// ExecutionRecord tracks one execution for the status display.
type ExecutionRecord struct {
	Kind      toolcall.Kind
	Label     string
	Success   bool
	Timestamp time.Time
	Duration  time.Duration
}

// maxHistory bounds the in-memory execution history.
const maxHistory = 100

// =============================================================================
// EXECUTOR
// =============================================================================

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Searcher backs web search. Nil means search is not configured.
	Searcher Searcher

	// MaxResults is how many results go into the digest (default: 5, max: 10)
	MaxResults int

	// Location for date/time answers. Nil means the process local zone,
	// read at execution time.
	Location *time.Location

	// Now is the clock (default: time.Now)
	Now func() time.Time

	// Logger overrides the package logger
	Logger *zerolog.Logger
}

// Executor dispatches tool invocations. It is safe for concurrent use.
type Executor struct {
	searcher   Searcher
	maxResults int
	location   *time.Location
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	history []ExecutionRecord
}

// NewExecutor creates an executor from cfg, filling in defaults.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		searcher:   cfg.Searcher,
		maxResults: cfg.MaxResults,
		location:   cfg.Location,
		now:        cfg.Now,
	}
	if e.maxResults <= 0 {
		e.maxResults = 5
	}
	if e.maxResults > 10 {
		e.maxResults = 10
	}
	if e.now == nil {
		e.now = time.Now
	}
	if cfg.Logger != nil {
		e.logger = *cfg.Logger
	} else {
		e.logger = logging.Component("tools")
	}
	return e
}

// Execute runs the invocation. It never returns an error: failures are
// described in Result.Text so the model can explain them to the user.
func (e *Executor) Execute(ctx context.Context, inv toolcall.Invocation) Result {
	start := time.Now()

	var res Result
	switch v := inv.(type) {
	case toolcall.WebSearch:
		res = e.webSearch(ctx, v.Query)
	case toolcall.CurrentDateTime:
		res = e.currentDateTime()
	default:
		res = Result{Text: "Unknown tool requested.", Label: "Unknown tool"}
	}
	res.Duration = time.Since(start)

	if inv != nil {
		res.Kind = inv.Kind()
		telemetry.RecordToolExecution(res.Kind.String(), res.Success, res.Duration)
	}

	e.logger.Info().
		Str("tool", res.Kind.String()).
		Bool("success", res.Success).
		Dur("duration", res.Duration).
		Msg(res.Label)

	e.record(res)
	return res
}

// History returns a copy of recent executions, oldest first.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Executor) record(res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ExecutionRecord{
		Kind:      res.Kind,
		Label:     res.Label,
		Success:   res.Success,
		Timestamp: e.now(),
		Duration:  res.Duration,
	})
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// =============================================================================
// WEB SEARCH
// =============================================================================

// SearchLabel is the UI label for a web search.
func SearchLabel(query string) string {
	return fmt.Sprintf("Searched the web for %q", query)
}

func (e *Executor) webSearch(ctx context.Context, query string) Result {
	res := Result{Label: SearchLabel(query)}

	if e.searcher == nil {
		res.Text = notConfiguredText(query)
		return res
	}

	results, err := e.searcher.Search(ctx, query, e.maxResults)
	switch {
	case errors.Is(err, ErrSearchNotConfigured):
		res.Text = notConfiguredText(query)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Text = fmt.Sprintf("The web search for %q did not finish in time. Tell the user that live search is unavailable right now.", query)
	case err != nil:
		e.logger.Warn().Err(err).Str("searcher", e.searcher.Name()).Msg("web search failed")
		res.Text = fmt.Sprintf("The web search for %q failed because the search service could not be reached (%v). Tell the user that live search is unavailable right now.", query, err)
	case len(results) == 0:
		res.Text = fmt.Sprintf("The web search for %q returned no results.", query)
	default:
		res.Text = FormatDigest(query, clampResults(results, e.maxResults))
		res.Success = true
	}
	return res
}

func notConfiguredText(query string) string {
	return fmt.Sprintf("Web search is not configured, so no results are available for %q. Answer from your own knowledge and mention that live search is not set up.", query)
}

// =============================================================================
// DATE AND TIME
// =============================================================================

// DateTimeLabel is the UI label for a date/time lookup.
const DateTimeLabel = "Checked the current date and time"

// dateTimeLayout renders e.g. "Monday, October 19, 2026 at 3:04 PM (CEST, UTC+02:00)".
const dateTimeLayout = "Monday, January 2, 2006 at 3:04 PM (MST, UTC-07:00)"

func (e *Executor) currentDateTime() Result {
	loc := e.location
	if loc == nil {
		loc = time.Local
	}
	now := e.now().In(loc)
	return Result{
		Text:    "It is currently " + now.Format(dateTimeLayout) + ".",
		Label:   DateTimeLabel,
		Success: true,
	}
}
