// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import "time"

// =============================================================================
// STATE
// =============================================================================

// State is the position of a turn in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateThinking
	StateStreaming
	StateExecutingTool
	StateFinalized
	StateCancelled
	StateFailed
)

// String returns the state name used in logs and events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateStreaming:
		return "streaming"
	case StateExecutingTool:
		return "executing_tool"
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled || s == StateFailed
}

// =============================================================================
// OUTCOME
// =============================================================================

// OutcomeKind is the terminal classification of a turn.
type OutcomeKind int

const (
	OutcomeFinalized OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinalized:
		return "finalized"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// State returns the terminal state matching the outcome.
func (k OutcomeKind) State() State {
	switch k {
	case OutcomeFinalized:
		return StateFinalized
	case OutcomeCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Outcome is the result of a finished turn.
type Outcome struct {
	Kind OutcomeKind

	// TurnID correlates log lines, events and stored messages
	TurnID string

	// VisibleText is the cleaned answer. For Cancelled and Failed turns it
	// holds whatever had already been shown.
	VisibleText string

	// ReasoningText is the reasoning of every round, joined by blank lines
	ReasoningText string

	// ToolUsed is true when any round of the turn executed a tool
	ToolUsed  bool
	ToolLabel string

	// Reason is a human-readable failure message (Failed only)
	Reason string
	Err    error

	// Rounds is the number of streams opened for the turn
	Rounds int

	// Tokens sums the usage reported by every round that completed
	Tokens TokenCount

	Duration time.Duration
}

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add accumulates the usage of one completed stream.
func (t *TokenCount) Add(input, output int) {
	t.Input += input
	t.Output += output
}

// Total returns input plus output tokens.
func (t TokenCount) Total() int {
	return t.Input + t.Output
}

// ContentUpdate describes a change to the visible answer.
type ContentUpdate struct {
	// Delta is text appended to what was shown before
	Delta string

	// Visible is the full visible text after the update
	Visible string

	// Reset is set when Visible replaces, rather than extends, the
	// previous text
	Reset bool

	// Suppressed is set while the round looks like a tool invocation and
	// content is being withheld
	Suppressed bool
}
