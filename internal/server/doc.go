// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the streaming engine over HTTP.
//
// # Endpoints
//
//   - POST /api/turn   - run one turn, streamed back as NDJSON events
//   - GET  /api/models - installed models on the inference server
//   - GET  /health     - health check (never requires auth)
//   - GET  /metrics    - Prometheus metrics
//
// A turn request carries the conversation so far, or a conversation_id of
// a stored conversation plus the new user message:
//
//	{"model":"qwen3:8b","think":true,"messages":[{"role":"user","content":"What time is it?"}]}
//
// Each response line is an Event: state, reasoning, content, tool_start,
// tool_result and error events as the turn progresses, then one done event
// carrying the outcome. Closing the connection cancels the turn.
//
// # Middleware
//
//   - Panic recovery
//   - Request logging and HTTP metrics
//   - Security headers
//   - Per-IP token bucket rate limiting
//   - Optional bearer token with constant-time comparison
package server
