// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolcall

import "strings"

// markerFamily is an opening/closing tag pair.
type markerFamily struct {
	open  string
	close string
}

var (
	invocationFamily = markerFamily{open: InvocationOpen, close: InvocationClose}
	resultFamily     = markerFamily{open: ResultOpen, close: ResultClose}
)

// Clean removes every tool-protocol block from text destined for a user:
// closed and unclosed invocation blocks, closed and unclosed result-echo
// blocks, and stray closing tags. The result is trimmed.
//
// Clean is idempotent. Removal repeats until the text stops changing, so a
// marker that only forms after an inner block is cut out is removed too.
func Clean(text string) string {
	for {
		next := RemoveInvocationBlocks(RemoveResultBlocks(text))
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

// RemoveInvocationBlocks removes closed invocation blocks, an unclosed
// trailing invocation block and stray invocation closing tags. Result-echo
// blocks are left as they are, including any invocation text inside them.
// It does not trim.
func RemoveInvocationBlocks(text string) string {
	return removeFamily(text, invocationFamily)
}

// RemoveResultBlocks removes closed result-echo blocks, an unclosed trailing
// result-echo block and stray result-echo closing tags. Invocation blocks are
// left as they are. It does not trim.
func RemoveResultBlocks(text string) string {
	return removeFamily(text, resultFamily)
}

// StripMarkers removes the marker tags but keeps whatever they wrapped.
// It is used to show a malformed invocation to the user instead of
// dropping it.
func StripMarkers(text string) string {
	r := strings.NewReplacer(
		InvocationOpen, "",
		InvocationClose, "",
		ResultOpen, "",
		ResultClose, "",
	)
	return strings.TrimSpace(r.Replace(text))
}

// removeFamily scans left to right over both families. At the earliest
// opening tag of either family the block runs through that family's closing
// tag, or to the end of the text when it is unclosed. Blocks of target are
// dropped and blocks of the other family are copied unchanged. Closing tags
// of target outside any block are dropped.
//
// Both families share one scan, so removing one family first never changes
// where the other family's blocks begin or end.
func removeFamily(text string, target markerFamily) string {
	var b strings.Builder
	b.Grow(len(text))

	rest := text
	for rest != "" {
		idx, fam := earliestOpen(rest)
		if idx < 0 {
			b.WriteString(strings.ReplaceAll(rest, target.close, ""))
			break
		}
		b.WriteString(strings.ReplaceAll(rest[:idx], target.close, ""))

		end := len(rest)
		if i := strings.Index(rest[idx+len(fam.open):], fam.close); i >= 0 {
			end = idx + len(fam.open) + i + len(fam.close)
		}
		if fam != target {
			b.WriteString(rest[idx:end])
		}
		rest = rest[end:]
	}

	return b.String()
}

func earliestOpen(text string) (int, markerFamily) {
	best := -1
	var bestFam markerFamily
	for _, fam := range []markerFamily{invocationFamily, resultFamily} {
		if i := strings.Index(text, fam.open); i >= 0 && (best < 0 || i < best) {
			best = i
			bestFam = fam
		}
	}
	return best, bestFam
}
