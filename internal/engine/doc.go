// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine runs one conversational turn against a streaming model.
//
// A turn streams the model's reply, watches the content for an embedded
// <tool_call> invocation, executes the requested tool, and streams a
// continuation with the tool result injected. Callers observe progress
// through the Observer interface and get a single terminal Outcome:
// Finalized, Cancelled or Failed.
//
// Usage:
//
//	eng := engine.New(client, executor, engine.Config{})
//	h := eng.Start(ctx, engine.Request{Messages: history}, engine.Callbacks{
//	    Content: func(u engine.ContentUpdate) { fmt.Print(u.Delta) },
//	})
//	out := h.Wait()
package engine
