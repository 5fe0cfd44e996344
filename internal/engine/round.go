// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
)

// round is the accumulated response of one stream.
type round struct {
	chain      *turnChain
	allowTools bool

	content    strings.Builder
	reasoning  strings.Builder
	sawContent bool

	// pending is set while the content looks like an invocation
	pending bool

	// frozen stops token processing once an invocation resolved
	frozen     bool
	invocation toolcall.Invocation

	// forbidden is a valid invocation seen when no tool round was left
	forbidden toolcall.Invocation

	// text is the finalized visible text when no invocation is executed
	text string
}

// streamRound opens one stream over the chain's messages and consumes it to
// the end. A non-nil error is either the context's error or a transport
// failure; the round is still returned with the content processed so far.
func (e *Engine) streamRound(ctx context.Context, req Request, chain *turnChain, allowTools bool) (*round, error) {
	chain.rounds++
	r := &round{chain: chain, allowTools: allowTools}
	defer func() { chain.addReasoning(r.reasoning.String()) }()

	log := chain.log.With().Int("round", chain.rounds).Logger()

	stream, err := e.streams.ChatStream(ctx, ollama.ChatRequest{
		Model:    req.Model,
		Messages: chain.messages,
		Think:    req.Think,
		Options:  e.options,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r, ctxErr
		}
		return r, err
	}
	// Closing the body unblocks a read in progress when the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()
	defer stream.Close()

	started := time.Now()
	var final ollama.StreamFragment
	for {
		frag, err := stream.Next(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r, ctxErr
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("stream failed")
			return r, err
		}
		r.handle(frag)
		if frag.Done {
			final = frag
			break
		}
	}

	telemetry.RecordStream(time.Since(started), stream.Skipped())
	if final.Done {
		telemetry.RecordTokens(final.PromptTokens, final.CompletionTokens)
		chain.tokens.Add(final.PromptTokens, final.CompletionTokens)
		log.Debug().
			Str("model", final.Model).
			Str("done_reason", final.DoneReason).
			Int("prompt_tokens", final.PromptTokens).
			Int("completion_tokens", final.CompletionTokens).
			Float64("tokens_per_second", final.TokensPerSecond()).
			Int64("skipped", stream.Skipped()).
			Msg("stream complete")
	}

	r.finish()
	return r, nil
}

// handle processes one fragment in wire order.
func (r *round) handle(frag ollama.StreamFragment) {
	if r.frozen {
		return
	}

	if frag.Reasoning != "" {
		if !r.sawContent {
			r.chain.setState(StateThinking)
		}
		r.reasoning.WriteString(frag.Reasoning)
		r.chain.obs.OnReasoning(frag.Reasoning)
	}

	if frag.Content == "" {
		return
	}
	if !r.sawContent {
		r.sawContent = true
		r.chain.setState(StateStreaming)
	}
	r.content.WriteString(frag.Content)
	buf := r.content.String()

	wasPending := r.pending
	r.pending = toolcall.LooksLikeInvocation(buf) || toolcall.ContainsInvocation(buf)
	switch {
	case r.pending && !wasPending:
		r.chain.suppress()
	case !r.pending && wasPending:
		// Turned out to be a result echo; show what was held back.
		r.flush(true)
	case !r.pending:
		r.flush(false)
	}

	if r.pending {
		r.detect(buf)
	}
}

// detect runs full extraction over the buffer.
func (r *round) detect(buf string) {
	if r.forbidden != nil {
		return
	}
	inv, ok := toolcall.Detect(buf)
	if !ok {
		return
	}
	if !r.allowTools {
		r.forbidden = inv
		r.chain.log.Warn().Str("tool", inv.Kind().String()).Msg("tool call ignored, no tool rounds left")
		return
	}
	r.invocation = inv
	r.frozen = true
	r.chain.log.Debug().Str("tool", inv.Kind().String()).Msg("tool call detected")
}

// partial is the text an interrupted round ends with: everything processed
// so far, cleaned, unless an invocation was being withheld.
func (r *round) partial() string {
	if r.pending {
		return r.chain.visible
	}
	return toolcall.Clean(r.content.String())
}

// flush shows the cleaned buffer, holding back a trailing partial marker.
func (r *round) flush(force bool) {
	buf := r.content.String()
	buf = buf[:len(buf)-toolcall.TrailingMarkerPrefix(buf)]
	r.chain.show(toolcall.Clean(buf), force)
}

// finish settles the round once the stream has ended.
func (r *round) finish() {
	buf := r.content.String()

	if r.invocation == nil && r.forbidden == nil && r.allowTools {
		if inv, ok := toolcall.Detect(buf); ok {
			r.invocation = inv
		}
	}
	if r.invocation != nil {
		return
	}

	switch {
	case r.forbidden != nil:
		r.text = toolcall.Clean(buf)
	case toolcall.ContainsInvocation(buf):
		// Malformed or unknown call: show it without the protocol markers.
		r.text = toolcall.StripMarkers(toolcall.RemoveResultBlocks(buf))
	default:
		r.text = toolcall.Clean(buf)
	}
	r.chain.show(r.text, false)
}
