// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// DefaultToolPrompt teaches the model the invocation grammar.
const DefaultToolPrompt = `You can use tools when you need information you do not have.
To call a tool, reply with only the call and nothing else:
<tool_call>{"name": "web_search", "query": "search terms"}</tool_call>

Available tools:
- web_search: search the web for current information. "query" is required.
- get_current_datetime: get the current local date and time. No query.

After a tool call, stop. The result will be given to you in a <tool_result> block.
If you can answer directly, answer directly without calling a tool.`

// continuationMessage wraps a tool result in a system message for the
// follow-up round.
func continuationMessage(res tools.Result, moreToolsAllowed bool) ollama.Message {
	var b strings.Builder
	b.WriteString(toolcall.ResultOpen)
	b.WriteString("\n")
	b.WriteString(res.Text)
	b.WriteString("\n")
	b.WriteString(toolcall.ResultClose)
	b.WriteString("\n\n")
	b.WriteString("Use the tool result above to answer the user's last message. ")
	if !moreToolsAllowed {
		b.WriteString("Do not call any more tools. ")
	}
	b.WriteString("Do not repeat the tool result verbatim or wrap your answer in tool tags; answer naturally in your own words.")
	return ollama.NewSystemMessage(b.String())
}
