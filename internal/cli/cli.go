// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command dispatch for rigrun-chat.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdServe
	CmdStatus
	CmdConfig
	CmdHistory
	CmdVersion
	CmdHelp
)

// commandNames maps command words and aliases to commands.
var commandNames = map[string]Command{
	"chat":     CmdChat,
	"ask":      CmdAsk,
	"a":        CmdAsk,
	"serve":    CmdServe,
	"server":   CmdServe,
	"status":   CmdStatus,
	"s":        CmdStatus,
	"config":   CmdConfig,
	"history":  CmdHistory,
	"sessions": CmdHistory,
	"version":  CmdVersion,
	"help":     CmdHelp,
}

// boolFlagNames are the flags that never take a value.
var boolFlagNames = []string{
	"json", "quiet", "q", "verbose", "v",
	"think", "no-think", "no-tools", "show-thinking", "plain",
	"confirm", "yes", "y", "force", "no-history",
	"help", "h", "version", "V",
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	Verbose    bool
	JSON       bool   // Output in JSON format
	Model      string // Override the configured model
	ConfigPath string // Use this config file instead of ~/.rigrun-chat/config.toml

	// Think overrides local.think when set
	Think *bool

	// NoTools disables tool use for the turn
	NoTools bool

	// ShowThinking prints reasoning as it streams
	ShowThinking bool

	// Plain disables markdown rendering of answers
	Plain bool

	// Command-specific
	Query      string
	File       string
	Subcommand string

	// Parser holds the full parse for command-specific flags and positionals
	Parser *ArgParser
}

const usageText = `rigrun-chat - streaming chat with local models and web search

Usage:
  rigrun-chat                          Interactive chat (default)
  rigrun-chat chat                     Interactive chat
  rigrun-chat ask "question"           Ask a single question
  rigrun-chat serve                    Serve turns over HTTP (NDJSON)
  rigrun-chat status, s                Show model server status
  rigrun-chat config [subcommand]      Configuration
  rigrun-chat history [subcommand]     Saved conversations

Config Commands:
  rigrun-chat config show              Show the effective configuration
  rigrun-chat config path              Print the config file path
  rigrun-chat config init              Write a default config file
    --force                            Overwrite an existing file
  rigrun-chat config get KEY           Print one value (e.g. search.provider)
  rigrun-chat config set KEY VALUE     Change one value
  rigrun-chat config keys              List all keys

History Commands:
  rigrun-chat history list             List saved conversations
    -n, --limit N                      Show only the N most recent
  rigrun-chat history show REF         Show a conversation
  rigrun-chat history search TEXT      Find conversations containing TEXT
  rigrun-chat history export REF       Export a conversation
    --format md|json                   Export format (default: md)
    --output FILE                      Write to FILE instead of stdout
  rigrun-chat history delete REF       Delete a conversation
    --confirm                          Skip the confirmation prompt

  REF is a list number, a conversation ID or a unique ID prefix.

Chat and Ask Flags:
  -m, --model NAME     Use a specific model
  --think              Ask the model to stream its reasoning
  --no-think           Do not request reasoning
  --show-thinking      Print reasoning while it streams
  --no-tools           Disable web search and date/time tools
  --plain              Print answers without markdown rendering
  -f, --file FILE      Include a file with the question (ask)
  -r, --resume REF     Continue a saved conversation (chat)

Serve Flags:
  --addr HOST:PORT     Listen address (default: server.addr)
  --no-history         Do not save served conversations

Global Flags:
  -c, --config FILE    Use FILE as the config file
  --json               Output in JSON format
  -q, --quiet          Minimal output
  -v, --verbose        Debug logging

Environment:
  RIGRUN_* variables override config values (see "config show").
  A .env file in the working directory is loaded first.

Examples:
  rigrun-chat ask "what's the weather in Oslo today?"
  rigrun-chat ask --think --show-thinking "what day is it?"
  rigrun-chat ask "Summarize this:" --file notes.md
  rigrun-chat chat --model qwen3:14b
  rigrun-chat chat --resume 1
  rigrun-chat history export 2 --format json --output conv.json
  rigrun-chat serve --addr 127.0.0.1:9000

Version: %s
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("rigrun-chat %s\n", Version)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Built:  %s\n", BuildDate)
	fmt.Printf("  Go:     %s\n", runtime.Version())
}

// =============================================================================
// PARSING
// =============================================================================

// ParseArgs parses raw command-line arguments. With no command word the
// command is chat.
func ParseArgs(raw []string) (Command, Args, error) {
	cmd := CmdChat
	rest := raw

	if len(raw) > 0 && !strings.HasPrefix(raw[0], "-") {
		c, ok := commandNames[strings.ToLower(raw[0])]
		if !ok {
			return CmdHelp, Args{}, NewValidationErrorWithExample("command", raw[0], "unknown command", `rigrun-chat ask "question"`)
		}
		cmd = c
		rest = raw[1:]
	}

	p := NewArgParser(rest, boolFlagNames...)
	args := Args{
		Quiet:        p.BoolFlag("quiet", "q"),
		Verbose:      p.BoolFlag("verbose", "v"),
		JSON:         p.BoolFlag("json"),
		Model:        p.Flag("model", "m"),
		ConfigPath:   p.Flag("config", "c"),
		NoTools:      p.BoolFlag("no-tools"),
		ShowThinking: p.BoolFlag("show-thinking"),
		Plain:        p.BoolFlag("plain"),
		File:         p.Flag("file", "f"),
		Subcommand:   p.Subcommand(),
		Parser:       p,
	}

	if v, ok := p.BoolFlagSet("think"); ok {
		args.Think = &v
	}
	if p.BoolFlag("no-think") {
		f := false
		args.Think = &f
	}

	switch {
	case p.BoolFlag("help", "h"):
		cmd = CmdHelp
	case p.BoolFlag("version", "V"):
		cmd = CmdVersion
	}

	if cmd == CmdAsk {
		args.Query = strings.TrimSpace(JoinPositionalArgs(p, 0))
		args.Subcommand = ""
	}

	return cmd, args, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Main parses arguments, runs the command and returns the exit code.
func Main(raw []string) int {
	cmd, args, err := ParseArgs(raw)
	if err != nil {
		DisplayError(err, false)
		fmt.Fprintln(os.Stderr, "Run 'rigrun-chat help' for usage.")
		return GetExitCode(err)
	}

	if err := Run(cmd, args); err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// Run executes a parsed command.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdAsk:
		return HandleAsk(args)
	case CmdChat:
		return HandleChat(args)
	case CmdServe:
		return HandleServe(args)
	case CmdStatus:
		return HandleStatus(args)
	case CmdConfig:
		return HandleConfig(args)
	case CmdHistory:
		return HandleHistory(args)
	case CmdVersion:
		return HandleVersion(args)
	default:
		PrintUsage()
		return nil
	}
}

// HandleVersion prints version information, as JSON with --json.
func HandleVersion(args Args) error {
	if args.JSON {
		return outputJSON(map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
		})
	}
	PrintVersion()
	return nil
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) error {
	return encodeJSON(os.Stdout, v)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
