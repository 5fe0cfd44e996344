// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolcall implements the inline tool-call protocol models use to
// request a web search or the current date and time in the middle of an
// answer.
//
// The model writes an invocation marker followed by one JSON object:
//
//	<tool_call>{"name": "web_search", "query": "weather in Lisbon"}</tool_call>
//
// The closing marker is optional. Models sometimes quote a previous tool
// result back inside a result-echo block (<tool_result>...</tool_result>);
// the two marker families share a prefix and are told apart as soon as
// enough characters have arrived.
//
// # Key Functions
//
//   - LooksLikeInvocation: early check used to hide protocol text mid-stream
//   - ExtractJSON: balanced-brace extraction of the embedded object
//   - Resolve: schema validation and typing of the extracted object
//   - Clean: removal of every protocol block from user-facing text
//
// All functions are pure and safe for concurrent use.
package toolcall
