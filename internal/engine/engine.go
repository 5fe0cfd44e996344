// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// StreamOpener starts a streaming chat request. *ollama.Client implements it.
type StreamOpener interface {
	ChatStream(ctx context.Context, req ollama.ChatRequest) (*ollama.StreamReader, error)
}

// ToolRunner executes a resolved invocation. *tools.Executor implements it.
// Failures are reported in the Result text, never as errors.
type ToolRunner interface {
	Execute(ctx context.Context, inv toolcall.Invocation) tools.Result
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultMaxToolRounds is how many tool executions one turn may perform.
const DefaultMaxToolRounds = 1

// Config holds per-engine settings. It is copied at construction; build a new
// Engine to pick up changed settings.
type Config struct {
	// MaxToolRounds caps tool executions per turn. Zero means
	// DefaultMaxToolRounds; negative disables tools entirely.
	MaxToolRounds int

	// ToolPrompt overrides DefaultToolPrompt
	ToolPrompt string

	// DisableToolPrompt skips the protocol system message
	DisableToolPrompt bool

	// Options are passed through to the model server
	Options *ollama.Options

	// Logger overrides the package logger
	Logger *zerolog.Logger
}

// Request is one turn's input.
type Request struct {
	// Messages is the conversation so far, ending with the user's message
	Messages []ollama.Message

	// Model overrides the client's default model
	Model string

	// Think asks the model to stream its reasoning separately
	Think bool
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs turns. It holds no per-turn state and is safe for concurrent
// use; callers serialize turns within one conversation.
type Engine struct {
	streams       StreamOpener
	tools         ToolRunner
	maxToolRounds int
	toolPrompt    string
	options       *ollama.Options
	logger        zerolog.Logger
}

// New creates an engine. A nil runner disables tools.
func New(streams StreamOpener, runner ToolRunner, cfg Config) *Engine {
	e := &Engine{
		streams:       streams,
		tools:         runner,
		maxToolRounds: cfg.MaxToolRounds,
		toolPrompt:    cfg.ToolPrompt,
		options:       cfg.Options,
	}
	switch {
	case runner == nil || e.maxToolRounds < 0:
		e.maxToolRounds = 0
	case e.maxToolRounds == 0:
		e.maxToolRounds = DefaultMaxToolRounds
	}
	if e.toolPrompt == "" {
		e.toolPrompt = DefaultToolPrompt
	}
	if cfg.DisableToolPrompt || e.maxToolRounds == 0 {
		e.toolPrompt = ""
	}
	if cfg.Logger != nil {
		e.logger = *cfg.Logger
	} else {
		e.logger = logging.Component("engine")
	}
	return e
}

// MaxToolRounds returns the effective tool round cap.
func (e *Engine) MaxToolRounds() int {
	return e.maxToolRounds
}

// Run executes one turn and blocks until it reaches a terminal state.
// Cancelling ctx ends the turn as Cancelled. obs may be nil.
func (e *Engine) Run(ctx context.Context, req Request, obs Observer) Outcome {
	if obs == nil {
		obs = Callbacks{}
	}
	start := time.Now()
	turnID := logging.NewTurnID()

	chain := &turnChain{
		obs:      obs,
		log:      logging.WithTurn(e.logger, turnID),
		messages: e.initialMessages(req.Messages),
	}
	telemetry.TurnStarted()
	chain.log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Bool("think", req.Think).
		Msg("turn started")

	out := e.loop(ctx, req, chain)
	out.TurnID = turnID
	out.ReasoningText = chain.joinedReasoning()
	out.ToolUsed = chain.toolUsed
	out.ToolLabel = chain.toolLabel
	out.Rounds = chain.rounds
	out.Tokens = chain.tokens
	out.Duration = time.Since(start)

	telemetry.TurnFinished(out.Kind.String())
	chain.setState(out.Kind.State())

	ev := chain.log.Info()
	if out.Kind == OutcomeFailed {
		ev = chain.log.Warn().Err(out.Err)
	}
	ev.Str("outcome", out.Kind.String()).
		Bool("tool_used", out.ToolUsed).
		Int("rounds", out.Rounds).
		Int("tokens", out.Tokens.Total()).
		Dur("duration", out.Duration).
		Msg("turn finished")

	if out.Kind == OutcomeFailed {
		obs.OnError(out.Reason, out.Err)
	}
	obs.OnComplete(out)
	return out
}

// initialMessages copies the history so continuation messages never alias
// the caller's slice, prepending the tool protocol prompt when enabled.
func (e *Engine) initialMessages(history []ollama.Message) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+2)
	if e.toolPrompt != "" {
		msgs = append(msgs, ollama.NewSystemMessage(e.toolPrompt))
	}
	return append(msgs, history...)
}

// loop streams rounds until one finishes without an executable invocation.
func (e *Engine) loop(ctx context.Context, req Request, chain *turnChain) Outcome {
	for {
		allowTools := chain.toolRounds < e.maxToolRounds
		r, err := e.streamRound(ctx, req, chain, allowTools)
		if err != nil {
			return chain.interrupted(err, r.partial())
		}
		if r.invocation == nil {
			return Outcome{Kind: OutcomeFinalized, VisibleText: r.text}
		}

		chain.toolRounds++
		chain.setState(StateExecutingTool)
		chain.obs.OnToolStart(r.invocation)

		res := e.tools.Execute(ctx, r.invocation)
		if err := ctx.Err(); err != nil {
			chain.log.Info().Str("tool", r.invocation.Kind().String()).Msg("tool result discarded")
			return chain.interrupted(err, chain.visible)
		}

		chain.toolUsed = true
		chain.toolLabel = res.Label
		chain.obs.OnToolResult(res)

		chain.messages = append(chain.messages, continuationMessage(res, chain.toolRounds < e.maxToolRounds))
		chain.show("", false)
	}
}

// =============================================================================
// TURN CHAIN
// =============================================================================

// turnChain is the state carried across the rounds of one turn. It is owned
// by the goroutine running the turn.
type turnChain struct {
	obs Observer
	log zerolog.Logger

	messages []ollama.Message
	state    State

	// visible is the text most recently shown to the observer
	visible string

	reasoning  []string
	rounds     int
	toolRounds int
	toolUsed   bool
	toolLabel  string
	tokens     TokenCount
}

func (c *turnChain) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state")
	c.state = s
	c.obs.OnState(s)
}

// show moves the visible text to visible. Unless force is set, an unchanged
// text emits nothing.
func (c *turnChain) show(visible string, force bool) {
	if visible == c.visible && !force {
		return
	}
	u := ContentUpdate{Visible: visible}
	if strings.HasPrefix(visible, c.visible) {
		u.Delta = visible[len(c.visible):]
	} else {
		u.Reset = true
	}
	c.visible = visible
	c.obs.OnContent(u)
}

// suppress tells the observer content is being withheld.
func (c *turnChain) suppress() {
	c.obs.OnContent(ContentUpdate{Visible: c.visible, Suppressed: true})
}

func (c *turnChain) addReasoning(text string) {
	if strings.TrimSpace(text) != "" {
		c.reasoning = append(c.reasoning, strings.TrimSpace(text))
	}
}

func (c *turnChain) joinedReasoning() string {
	return strings.Join(c.reasoning, "\n\n")
}

// interrupted converts a round error into a terminal outcome carrying the
// partial answer.
func (c *turnChain) interrupted(err error, visible string) Outcome {
	if errors.Is(err, context.Canceled) {
		return Outcome{Kind: OutcomeCancelled, VisibleText: visible}
	}
	return Outcome{
		Kind:        OutcomeFailed,
		VisibleText: visible,
		Reason:      failureReason(err),
		Err:         err,
	}
}

// failureReason maps an error to the message shown in place of an answer.
func failureReason(err error) string {
	var ce *ollama.ClientError
	switch {
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return "The request timed out."
	case ollama.IsNotRunning(err):
		return "Could not connect to the model server. Is Ollama running?"
	case ollama.IsModelNotFound(err) && errors.As(err, &ce):
		return "Model not available: " + ce.Message
	case errors.As(err, &ce) && ce.Type == ollama.ErrTypeStream:
		return "The model server reported an error: " + ce.Message
	default:
		return "The model request failed: " + err.Error()
	}
}
