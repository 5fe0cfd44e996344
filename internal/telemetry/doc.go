// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics for rigrun-chat.
//
// This package tracks turns, streams, token usage and tool executions so
// operators can see how often the model reaches for tools and how long
// local inference takes.
//
// # Metrics
//
//   - rigrun_chat_turns_total{outcome}: finished turns by outcome
//   - rigrun_chat_active_turns: turns currently streaming
//   - rigrun_chat_tool_executions_total{tool,success}: tool runs
//   - rigrun_chat_tool_duration_seconds{tool}: tool latency
//   - rigrun_chat_stream_duration_seconds: one streamed response
//   - rigrun_chat_stream_skipped_lines_total: undecodable stream lines
//   - rigrun_chat_tokens_total{kind}: prompt and completion tokens
//   - rigrun_chat_http_requests_total{route,code}: server requests
//
// # Privacy
//
// Metrics are local-only and never contain message content.
package telemetry
