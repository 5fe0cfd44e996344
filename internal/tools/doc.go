// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools executes the tool invocations a model embeds in its answer.
//
// Two actions exist: a web search through a pluggable Searcher, and the
// current date and time. Execution never fails from the caller's point of
// view. A search service that is missing, unreachable or empty produces an
// explanatory sentence the model can relay to the user.
//
// # Key Types
//
//   - Executor: dispatches a toolcall.Invocation and returns a Result
//   - Result: plain-text output plus a short label for the UI
//   - Searcher: search backend interface
//   - SearXNGSearcher: JSON API of a SearXNG instance
//   - DuckDuckGoSearcher: DuckDuckGo HTML endpoint, no API key
//   - RateLimitedSearcher: token-bucket wrapper around any Searcher
//
// # Usage
//
//	exec := tools.NewExecutor(tools.ExecutorConfig{
//	    Searcher:   tools.NewRateLimitedSearcher(tools.NewSearXNGSearcher(url, 0), 10),
//	    MaxResults: 5,
//	})
//	res := exec.Execute(ctx, toolcall.WebSearch{Query: "weather in Lisbon"})
//	fmt.Println(res.Text)
package tools
