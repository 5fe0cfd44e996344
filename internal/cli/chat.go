// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat
//
// Examples:
//   rigrun-chat chat                       Start interactive chat
//   rigrun-chat chat --model qwen3:14b     Use specific model
//   rigrun-chat chat --resume 1            Continue the most recent conversation
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new, /clear        Start a new conversation
//   /model [name]       Show or switch model
//   /think              Toggle reasoning requests
//   /thinking           Toggle showing reasoning
//   /status, /s         Show session statistics
//   /history            Show this conversation
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
//
// The config file is watched while chatting; each turn uses the settings in
// effect when it starts.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputSource reads one line of user input.
type inputSource interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in dir.
func NewChatCLI(dir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if dir == "" {
		dir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state of an interactive chat.
type ChatSession struct {
	app     *app
	watcher *config.Watcher
	store   storage.Store
	rec     *storage.Recorder
	out     io.Writer
	log     zerolog.Logger

	Model        string
	Think        bool
	ShowThinking bool
	NoTools      bool

	// interrupts delivers Ctrl+C while a turn runs
	interrupts <-chan os.Signal

	// Statistics
	StartTime time.Time
	Turns     int
	ToolTurns int
	Failed    int
	Cancelled int
}

// newChatSession prepares a session. A store that cannot be opened leaves
// the session in memory only.
func newChatSession(a *app, args Args, out io.Writer) (*ChatSession, error) {
	s := &ChatSession{
		app:          a,
		watcher:      config.NewWatcher(a.cfgPath, a.cfg),
		out:          out,
		log:          a.log.With().Str("component", "chat").Logger(),
		Model:        a.cfg.Local.Model,
		Think:        a.cfg.Local.Think,
		ShowThinking: args.ShowThinking,
		NoTools:      args.NoTools,
		StartTime:    time.Now(),
	}

	store, err := openStore(a.cfg)
	if err != nil {
		s.log.Warn().Err(err).Msg("conversation history disabled")
	} else {
		s.store = store
	}

	if ref := args.Parser.Flag("resume", "r"); ref != "" {
		if s.store == nil {
			return nil, NewCommandError("chat", "resume", "conversation store unavailable", err)
		}
		conv, err := storage.Resolve(s.store, ref)
		if err != nil {
			_ = s.store.Close()
			return nil, err
		}
		s.rec = storage.ResumeRecorder(s.store, conv)
		if args.Model == "" && conv.Model != "" {
			s.Model = conv.Model
		}
		s.rec.SetModel(s.Model)
	} else {
		s.rec = storage.NewRecorder(s.store, s.Model)
	}

	s.watcher.OnChange(func(cfg *config.Config) {
		s.log.Info().Str("model", cfg.Local.Model).Msg("configuration reloaded")
	})
	return s, nil
}

// Close stops the watcher and closes the store.
func (s *ChatSession) Close() {
	_ = s.watcher.Close()
	if s.store != nil {
		_ = s.store.Close()
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat.
func HandleChat(args Args) error {
	a, err := loadApp(args, os.Stderr)
	if err != nil {
		return err
	}

	session, err := newChatSession(a, args, os.Stdout)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.watcher.Start(); err != nil {
		session.log.Debug().Err(err).Msg("config watcher not started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	session.interrupts = sigCh

	dir, _ := config.ConfigDir()
	input := NewChatCLI(dir)
	defer input.Close()

	if !args.Quiet {
		session.printWelcome()
	}
	err = session.Loop(input)
	if !args.Quiet {
		session.printExitSummary()
	}
	return err
}

// Loop reads input until EOF or /quit.
func (s *ChatSession) Loop(in inputSource) error {
	for {
		line, err := in.ReadInput("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(s.out, DimStyle.Render("(Ctrl+D or /quit to exit)"))
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := s.handleSlashCommand(line)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", WarningStyle.Render("[!]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		s.processMessage(line)
	}
}

// snapshot returns the config for the next turn with session overrides.
func (s *ChatSession) snapshot() *config.Config {
	cfg := s.watcher.Current().Clone()
	if s.NoTools {
		cfg.Engine.MaxToolRounds = -1
	}
	return cfg
}

// streamsFor returns the model client for cfg, rebuilding it when the
// server settings changed.
func (s *ChatSession) streamsFor(cfg *config.Config) *ollama.Client {
	current := s.app.client.Config()
	if current.BaseURL != cfg.Local.OllamaURL || current.ConnectTimeout != cfg.Local.ConnectTimeout.Duration {
		s.app.client = ollama.NewClientWithConfig(cfg.ClientConfig())
	}
	return s.app.client
}

// processMessage runs one turn. Ctrl+C cancels the turn and keeps the
// partial answer in the conversation.
func (s *ChatSession) processMessage(input string) engine.Outcome {
	cfg := s.snapshot()
	eng, err := newEngine(cfg, s.streamsFor(cfg))
	if err != nil {
		fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
		return engine.Outcome{Kind: engine.OutcomeFailed, Reason: err.Error(), Err: err}
	}

	s.rec.AddUser(input)
	obs := engine.Observers(
		newConsoleObserver(s.out, s.ShowThinking, false),
		s.rec.Observer(),
	)

	h := eng.Start(context.Background(), engine.Request{
		Messages: s.rec.History(),
		Model:    s.Model,
		Think:    s.Think,
	}, obs)

	var out engine.Outcome
wait:
	for {
		select {
		case <-h.Done():
			out = h.Wait()
			break wait
		case <-s.interrupts:
			h.Cancel()
		}
	}

	s.Turns++
	switch out.Kind {
	case engine.OutcomeFailed:
		s.Failed++
	case engine.OutcomeCancelled:
		s.Cancelled++
	}
	if out.ToolUsed {
		s.ToolTurns++
	}
	if err := s.rec.Err(); err != nil {
		fmt.Fprintf(s.out, "%s conversation not saved: %v\n", WarningStyle.Render("[!]"), err)
	}
	fmt.Fprintln(s.out)
	return out
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (keepGoing, error); keepGoing=false means exit.
func (s *ChatSession) handleSlashCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
	case "/new", "/clear", "/c":
		s.rec = storage.NewRecorder(s.store, s.Model)
		fmt.Fprintln(s.out, SuccessStyle.Render("[New conversation]"))
	case "/model", "/m":
		s.handleModelCommand(args)
	case "/think":
		s.Think = !s.Think
		fmt.Fprintf(s.out, "Reasoning requests: %s\n", onOff(s.Think))
	case "/thinking":
		s.ShowThinking = !s.ShowThinking
		fmt.Fprintf(s.out, "Show reasoning: %s\n", onOff(s.ShowThinking))
	case "/status", "/s":
		s.printStatus()
	case "/history":
		s.printHistory()
	case "/quit", "/q", "/exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// handleModelCommand shows or switches the model. Unknown models are
// accepted with a warning.
func (s *ChatSession) handleModelCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Current model: %s\n", HighlightModel(s.Model))
		return
	}

	newModel := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if models, err := s.app.client.ListModels(ctx); err == nil && !hasModel(models, newModel) {
		fmt.Fprintf(s.out, "%s model %q is not installed, trying it anyway\n", WarningStyle.Render("[!]"), newModel)
	}

	s.Model = newModel
	s.rec.SetModel(newModel)
	fmt.Fprintf(s.out, "%s Switched to model: %s\n", SuccessStyle.Render("[OK]"), newModel)
}

func hasModel(models []ollama.ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || strings.TrimSuffix(m.Name, ":latest") == name {
			return true
		}
	}
	return false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// HighlightModel renders a model name.
func HighlightModel(name string) string {
	return ToolStyle.Render(name)
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("rigrun-chat"))
	fmt.Fprintln(s.out, RenderSeparator(30))
	fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("Model:"), HighlightModel(s.Model))

	tools := "web search + date/time"
	if s.NoTools || s.snapshot().Engine.MaxToolRounds < 0 {
		tools = "off"
	} else if newSearcher(s.snapshot()) == nil {
		tools = "date/time (web search not configured)"
	}
	fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("Tools:"), tools)

	if conv := s.rec.Conversation(); conv.ID != "" {
		fmt.Fprintf(s.out, "%s %s (%d messages)\n", DimStyle.Render("Resumed:"), conv.Summary, len(conv.Messages))
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	fmt.Fprintln(s.out, RenderSeparator(20))

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new, /clear", "Start a new conversation"},
		{"/model [name]", "Show or switch model"},
		{"/think", "Toggle reasoning requests"},
		{"/thinking", "Toggle showing reasoning"},
		{"/status, /s", "Show session statistics"},
		{"/history", "Show this conversation"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %s  %s\n", util.PadWidth(c.cmd, 15), DimStyle.Render(c.desc))
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C cancels the current answer, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printStatus() {
	conv := s.rec.Conversation()

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Session Status"))
	fmt.Fprintln(s.out, RenderSeparator(20))
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Model:", 14), s.Model)
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Reasoning:", 14), onOff(s.Think))
	fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Duration:", 14), time.Since(s.StartTime).Round(time.Second))
	fmt.Fprintf(s.out, "  %s %d (%d with tools, %d failed, %d cancelled)\n",
		RenderLabel("Turns:", 14), s.Turns, s.ToolTurns, s.Failed, s.Cancelled)
	fmt.Fprintf(s.out, "  %s %d messages\n", RenderLabel("Conversation:", 14), len(conv.Messages))
	if conv.ID != "" {
		fmt.Fprintf(s.out, "  %s %s\n", RenderLabel("Saved as:", 14), conv.ID)
	}
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHistory() {
	conv := s.rec.Conversation()
	if len(conv.Messages) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("[No messages yet]"))
		return
	}

	fmt.Fprintln(s.out)
	for i, msg := range conv.Messages {
		role := "You"
		if msg.Role == storage.RoleAssistant {
			role = "AI"
			if msg.ToolUsed {
				role = "AI*"
			}
		}
		content := util.TruncateRunes(util.OneLine(msg.Content), 100)
		fmt.Fprintf(s.out, "  %d. %s: %s\n", i+1, role, content)
	}
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printExitSummary() {
	if s.Turns == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
		return
	}

	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s %d turns in %s",
		TitleStyle.Render("Session:"), s.Turns, time.Since(s.StartTime).Round(time.Second))
	if id := s.rec.ID(); id != "" {
		fmt.Fprintf(s.out, ", saved as %s", id)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
}
