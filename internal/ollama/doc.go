// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements the small part of the Ollama API the chat engine
// needs: a health check, the model list, and streaming chat completions
// with a separate reasoning channel.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ChatRequest: Request structure for chat completions
//   - StreamReader: cancellable reader over a newline-delimited JSON response
//   - StreamFragment: one decoded line (reasoning delta, content delta, done)
//   - ClientError: typed transport and protocol errors
//
// # Usage
//
//	client := ollama.NewClient()
//	stream, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen3:8b",
//	    Think:    true,
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    frag, err := stream.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(frag.Content)
//	}
//
// Lines that do not decode are skipped. Closing the reader from another
// goroutine unblocks a pending Next.
package ollama
