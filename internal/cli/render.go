// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Terminal rendering of engine events.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders markdown for the terminal. It returns content
// unchanged if the renderer is unavailable or fails.
func renderMarkdown(content string) string {
	markdownOnce.Do(func() {
		width := GetTerminalWidth() - 4
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// CONSOLE OBSERVER
// =============================================================================

// consoleObserver prints a turn as it happens.
//
// In plain mode answer text streams straight to out. In markdown mode the
// answer is held back behind a one-line progress indicator and rendered
// once the turn finalizes. Reasoning is printed only with showThinking.
type consoleObserver struct {
	out          io.Writer
	showThinking bool
	markdown     bool
	render       func(string) string

	mu          sync.Mutex
	visible     string
	inReasoning bool
	lineOpen    bool // the last write did not end in a newline
	progress    bool // a progress line is on screen
}

func newConsoleObserver(out io.Writer, showThinking, markdown bool) *consoleObserver {
	return &consoleObserver{
		out:          out,
		showThinking: showThinking,
		markdown:     markdown,
		render:       renderMarkdown,
	}
}

// write prints s and tracks whether the cursor is mid-line.
func (c *consoleObserver) write(s string) {
	if s == "" {
		return
	}
	fmt.Fprint(c.out, s)
	c.lineOpen = !strings.HasSuffix(s, "\n")
}

// newline ends the current line if one is open.
func (c *consoleObserver) newline() {
	c.clearProgress()
	if c.lineOpen {
		c.write("\n")
	}
}

func (c *consoleObserver) setProgress(text string) {
	if !c.markdown {
		return
	}
	if c.lineOpen && !c.progress {
		c.write("\n")
	}
	fmt.Fprint(c.out, "\r\033[K"+DimStyle.Render(util.TruncateWidth(text, GetTerminalWidth()-1)))
	c.progress = true
	c.lineOpen = false
}

func (c *consoleObserver) clearProgress() {
	if c.progress {
		fmt.Fprint(c.out, "\r\033[K")
		c.progress = false
	}
}

func (c *consoleObserver) endReasoning() {
	if c.inReasoning {
		c.newline()
		c.write("\n")
		c.inReasoning = false
	}
}

func (c *consoleObserver) OnState(s engine.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s {
	case engine.StateThinking:
		if !c.showThinking {
			c.setProgress("Thinking...")
		}
	case engine.StateStreaming:
		if c.visible == "" {
			c.setProgress("Writing...")
		}
	}
}

func (c *consoleObserver) OnReasoning(delta string) {
	if !c.showThinking {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inReasoning {
		c.newline()
		c.inReasoning = true
	}
	c.write(ReasoningStyle.Render(delta))
}

func (c *consoleObserver) OnContent(u engine.ContentUpdate) {
	if u.Suppressed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endReasoning()
	c.visible = u.Visible

	if c.markdown {
		c.setProgress(fmt.Sprintf("Writing... %d chars", len([]rune(u.Visible))))
		return
	}

	if u.Reset {
		c.newline()
		if u.Visible != "" {
			c.write(DimStyle.Render("(revised)") + "\n")
		}
		c.write(u.Visible)
		return
	}
	c.write(u.Delta)
}

func (c *consoleObserver) OnToolStart(inv toolcall.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endReasoning()
	c.newline()

	switch v := inv.(type) {
	case toolcall.WebSearch:
		c.write(ToolStyle.Render(fmt.Sprintf("Searching the web: %q", v.Query)) + "\n")
	case toolcall.CurrentDateTime:
		c.write(ToolStyle.Render("Checking the date and time") + "\n")
	}
}

func (c *consoleObserver) OnToolResult(res tools.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("%s (%s)", res.Label, formatDurationShort(res.Duration))
	if !res.Success {
		c.write(WarningStyle.Render(line+" - no results") + "\n")
		return
	}
	c.write(DimStyle.Render(line) + "\n")
}

func (c *consoleObserver) OnError(reason string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endReasoning()
	c.newline()
	c.write(ErrorStyle.Render("[ERROR]") + " " + reason + "\n")
}

func (c *consoleObserver) OnComplete(out engine.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endReasoning()
	c.clearProgress()

	if c.markdown && out.VisibleText != "" {
		c.write(c.render(out.VisibleText))
	}
	c.newline()

	if out.Kind == engine.OutcomeCancelled {
		c.write(WarningStyle.Render("[cancelled]") + "\n")
	}
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
