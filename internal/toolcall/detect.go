// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolcall

import (
	"strings"
	"unicode"
)

// =============================================================================
// MARKERS
// =============================================================================

const (
	// InvocationOpen starts an embedded tool invocation.
	InvocationOpen = "<tool_call>"

	// InvocationClose ends an embedded tool invocation. Models may omit it.
	InvocationClose = "</tool_call>"

	// ResultOpen starts a result-echo block.
	ResultOpen = "<tool_result>"

	// ResultClose ends a result-echo block.
	ResultClose = "</tool_result>"
)

// =============================================================================
// EARLY MARKER CHECK
// =============================================================================

// LooksLikeInvocation reports whether the content buffer is, or is on its
// way to becoming, an invocation.
//
// It returns true when the buffer (leading whitespace ignored) starts with
// InvocationOpen, or is a non-empty strict prefix of it. A buffer such as
// "<tool_r" is no longer a prefix of the invocation marker and returns false,
// which lets callers undo suppression once a result-echo becomes apparent.
func LooksLikeInvocation(buf string) bool {
	trimmed := strings.TrimLeftFunc(buf, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, InvocationOpen) {
		return true
	}
	return len(trimmed) < len(InvocationOpen) && strings.HasPrefix(InvocationOpen, trimmed)
}

// ContainsInvocation reports whether the invocation marker appears anywhere
// in buf outside a result-echo block. This catches invocations that follow
// some leading prose, but not a previous call quoted inside an echo.
func ContainsInvocation(buf string) bool {
	return strings.Contains(RemoveResultBlocks(buf), InvocationOpen)
}

// TrailingMarkerPrefix returns the length of the longest suffix of buf that
// is a strict prefix of either opening marker. Streaming callers hold that
// many bytes back so a marker split across tokens never flashes on screen.
func TrailingMarkerPrefix(buf string) int {
	idx := strings.LastIndexByte(buf, '<')
	if idx < 0 {
		return 0
	}
	tail := buf[idx:]
	for _, marker := range []string{InvocationOpen, ResultOpen} {
		if len(tail) < len(marker) && strings.HasPrefix(marker, tail) {
			return len(tail)
		}
	}
	return 0
}

// =============================================================================
// FULL EXTRACTION
// =============================================================================

// ExtractJSON locates the JSON object that follows the invocation marker.
//
// The search region runs from the end of the opening marker to the closing
// marker, or to the end of the buffer when the closing marker has not
// arrived. Starting at the first '{', braces are counted outside
// double-quoted strings, honouring backslash escapes. When the depth returns
// to zero the exact object text is returned with complete set to true.
// Otherwise the text from '{' to the end of the region is returned as a
// tentative result with complete set to false.
//
// Result-echo blocks, closed or still open, are ignored. found is false when
// there is no opening marker or no '{' after it yet.
func ExtractJSON(buf string) (obj string, complete bool, found bool) {
	buf = RemoveResultBlocks(buf)
	start := strings.Index(buf, InvocationOpen)
	if start < 0 {
		return "", false, false
	}
	region := buf[start+len(InvocationOpen):]
	if end := strings.Index(region, InvocationClose); end >= 0 {
		region = region[:end]
	}

	brace := strings.IndexByte(region, '{')
	if brace < 0 {
		return "", false, false
	}
	region = region[brace:]

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(region); i++ {
		c := region[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return region[:i+1], true, true
			}
		}
	}
	return region, false, true
}

// Detect runs extraction and resolution together. It returns an invocation
// only when a complete object has arrived and validates.
func Detect(buf string) (Invocation, bool) {
	obj, complete, found := ExtractJSON(buf)
	if !found || !complete {
		return nil, false
	}
	return Resolve(obj)
}
