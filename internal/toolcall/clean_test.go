// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var cleanCases = []struct {
	name string
	in   string
	want string
}{
	{"plain text", "The answer is 42.", "The answer is 42."},
	{"trims whitespace", "  \n hello \n", "hello"},
	{"empty", "", ""},
	{"closed invocation", `Before <tool_call>{"name":"get_date"}</tool_call> after`, "Before  after"},
	{"unclosed invocation", `Sure, checking. <tool_call>{"name":"web_search","query":"x"`, "Sure, checking."},
	{"closed result echo", "<tool_result>It is 3 PM.</tool_result>\nIt is 3 PM in Paris.", "It is 3 PM in Paris."},
	{"unclosed result echo", "Here you go.\n<tool_result>partial", "Here you go."},
	{"both families", `a <tool_call>{}</tool_call> b <tool_result>r</tool_result> c`, "a  b  c"},
	{"multiple invocations", `<tool_call>{}</tool_call>x<tool_call>{}</tool_call>y`, "xy"},
	{"stray closing tags", "done</tool_call></tool_result>", "done"},
	{"marker formed by removal", "<tool_<tool_result>r</tool_result>call>{}</tool_call>ok", "ok"},
	{"only a marker", "<tool_call>", ""},
	{"interleaved families", "<tool_result>a<tool_call>b</tool_result>c</tool_call>d", "cd"},
	{"partial marker is not removed", "x <tool_", "x <tool_"},
}

func TestClean(t *testing.T) {
	for _, tt := range cleanCases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	extra := []string{
		"<tool_call></tool_call></tool_call>",
		"</tool_</tool_call>call>",
		"<tool_result><tool_call>{}</tool_result></tool_call>tail",
		"<tool_call>a<tool_result>b</tool_call>c</tool_result>d",
		strings.Repeat("<tool_call>", 3) + "x",
	}
	inputs := extra
	for _, tt := range cleanCases {
		inputs = append(inputs, tt.in)
	}

	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "Clean not idempotent for %q", in)
	}
}

func TestClean_OrderIndependent(t *testing.T) {
	inputs := []string{
		`a <tool_call>{"name":"get_date"}</tool_call> b <tool_result>r</tool_result> c`,
		`<tool_result>r</tool_result> answer <tool_call>{"name":"get_date"`,
		`<tool_call>{"name":"get_date"} <tool_result>x</tool_result>`,
		"<tool_result>x <tool_call>{}</tool_call>",
		"text only",
		"answer</tool_result>",
		"<tool_result>a<tool_call>b</tool_result>c</tool_call>d",
		"<tool_call>a<tool_result>b</tool_call>c</tool_result>d",
		"x<tool_result>a</tool_call>b",
	}

	for _, in := range inputs {
		invFirst := strings.TrimSpace(RemoveResultBlocks(RemoveInvocationBlocks(in)))
		resFirst := strings.TrimSpace(RemoveInvocationBlocks(RemoveResultBlocks(in)))
		assert.Equal(t, invFirst, resFirst, "order changed result for %q", in)
		assert.Equal(t, Clean(in), invFirst, "Clean disagrees with sequential removal for %q", in)
	}
}

func TestStripMarkers(t *testing.T) {
	in := `<tool_call>{"name":"launch_rockets"}</tool_call>`
	assert.Equal(t, `{"name":"launch_rockets"}`, StripMarkers(in))
	assert.Equal(t, "hello", StripMarkers("  hello "))
}
