// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command.
//
// Command: ask [question]
//
// Examples:
//   rigrun-chat ask "What is the capital of France?"
//   rigrun-chat ask --json "what day is it?"
//   rigrun-chat ask "Review this:" --file main.go
//   echo "what's new in Go 1.24?" | rigrun-chat ask

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// MaxFileSize is the maximum size of a file or stdin included with a question (50KB).
const MaxFileSize = 50 * 1024

// askResult is the --json output of ask.
type askResult struct {
	Model      string `json:"model"`
	Outcome    string `json:"outcome"`
	TurnID     string `json:"turn_id"`
	Answer     string `json:"answer"`
	Reasoning  string `json:"reasoning,omitempty"`
	ToolUsed   bool   `json:"tool_used"`
	ToolLabel  string `json:"tool_label,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Rounds     int    `json:"rounds"`
	DurationMs int64  `json:"duration_ms"`

	Tokens engine.TokenCount `json:"tokens"`
}

// HandleAsk sends one question and streams the answer to stdout.
// Ctrl+C cancels the turn, keeping whatever was already shown.
func HandleAsk(args Args) error {
	question, err := buildQuestion(args, os.Stdin)
	if err != nil {
		return err
	}

	a, err := loadApp(args, os.Stderr)
	if err != nil {
		return err
	}
	eng, err := newEngine(a.cfg, a.client)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var obs engine.Observer = engine.Callbacks{}
	if !args.JSON {
		obs = newConsoleObserver(os.Stdout, args.ShowThinking, IsStdoutTTY() && !args.Plain)
	}

	out := eng.Run(ctx, engine.Request{
		Messages: []ollama.Message{ollama.NewUserMessage(question)},
		Model:    a.cfg.Local.Model,
		Think:    a.cfg.Local.Think,
	}, obs)

	if args.JSON {
		if err := outputJSON(newAskResult(a.cfg.Local.Model, out)); err != nil {
			return err
		}
	}
	return outcomeError(out)
}

// buildQuestion assembles the question from positional arguments, piped
// stdin and --file.
func buildQuestion(args Args, stdin io.Reader) (string, error) {
	question := args.Query

	if question == "" && args.File == "" && !IsTTY() {
		piped, err := readLimited(stdin, "stdin")
		if err != nil {
			return "", err
		}
		question = strings.TrimSpace(piped)
	}

	if args.File != "" {
		content, err := readFileForContext(args.File)
		if err != nil {
			return "", NewCommandError("ask", "read file", args.File, err)
		}
		question = strings.TrimSpace(question + "\n" + content)
	}

	if question == "" {
		return "", ErrMissingArgument("question", `rigrun-chat ask "What is the capital of France?"`)
	}
	return question, nil
}

// readFileForContext reads a file and formats it for inclusion in a prompt.
// Files larger than MaxFileSize or containing NUL bytes are rejected.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", fmt.Errorf("%s looks like a binary file", path)
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "\n--- File: %s ---\n", path)
	builder.Write(content)
	builder.WriteString("\n--- End of file ---\n")
	return builder.String(), nil
}

func readLimited(r io.Reader, name string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > MaxFileSize {
		return "", fmt.Errorf("%s too large (max %d bytes)", name, MaxFileSize)
	}
	return string(data), nil
}

func newAskResult(model string, out engine.Outcome) askResult {
	return askResult{
		Model:      model,
		Outcome:    out.Kind.String(),
		TurnID:     out.TurnID,
		Answer:     out.VisibleText,
		Reasoning:  out.ReasoningText,
		ToolUsed:   out.ToolUsed,
		ToolLabel:  out.ToolLabel,
		Reason:     out.Reason,
		Rounds:     out.Rounds,
		DurationMs: out.Duration.Milliseconds(),
		Tokens:     out.Tokens,
	}
}

// outcomeError maps a non-finalized outcome to a TurnError.
func outcomeError(out engine.Outcome) error {
	switch out.Kind {
	case engine.OutcomeFinalized:
		return nil
	case engine.OutcomeCancelled:
		return &TurnError{Cancelled: true}
	default:
		return &TurnError{Reason: out.Reason}
	}
}
