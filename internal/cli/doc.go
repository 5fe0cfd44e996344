// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for rigrun-chat.
//
// Every command builds the same pieces from the loaded configuration: an
// Ollama client, a search provider, a tool executor and a response engine.
// The commands differ only in where the turn's events go.
//
// # Key Types
//
//   - Command: enumeration of the CLI commands
//   - Args: parsed global flags plus the ArgParser for command flags
//   - ChatSession: interactive loop with slash commands and saved history
//
// # Usage
//
//	os.Exit(cli.Main(os.Args[1:]))
//
// # Commands
//
//   - chat: interactive chat (default)
//   - ask: single question, streamed or as JSON
//   - serve: HTTP server streaming turns as NDJSON
//   - status: model server, tools and storage status
//   - config: show, get, set and init the config file
//   - history: list, show, search, export and delete conversations
//
// Most commands support --json.
package cli
