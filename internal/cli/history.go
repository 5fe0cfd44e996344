// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved conversation commands.
//
// Command: history [subcommand]
// Aliases: sessions
//
// Subcommands:
//   list (default)       List saved conversations, newest first [--limit N]
//   show <ref>           Show a conversation
//   search <text>        List conversations containing text
//   export <ref>         Export as markdown or JSON
//   delete <ref>         Delete a conversation
//
// A ref is a list number (1 = most recent), a conversation ID or a unique
// ID prefix.
//
// Examples:
//   rigrun-chat history
//   rigrun-chat history show 1
//   rigrun-chat history export conv_3f2a --format json --output conv.json
//   rigrun-chat history delete 2 --confirm

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// historyCmd holds what the history subcommands need.
type historyCmd struct {
	store storage.Store
	out   io.Writer
	in    io.Reader
	json  bool
	plain bool
}

// HandleHistory handles the "history" command.
func HandleHistory(args Args) error {
	a, err := loadApp(args, os.Stderr)
	if err != nil {
		return err
	}
	store, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	h := &historyCmd{
		store: store,
		out:   os.Stdout,
		in:    os.Stdin,
		json:  args.JSON,
		plain: args.Plain || !IsStdoutTTY(),
	}
	return h.run(args.Parser)
}

func (h *historyCmd) run(p *ArgParser) error {
	sub := p.Subcommand()
	ref := p.Positional(1)

	needRef := func(usage string) error {
		if ref == "" {
			return ErrMissingArgument("conversation", usage)
		}
		return nil
	}

	switch sub {
	case "", "list", "ls":
		limit := 0
		if v := p.Flag("limit", "n"); v != "" {
			n, err := ParseIntWithValidation(v, "limit")
			if err != nil {
				return NewValidationErrorWithExample("limit", v, err.Error(), "rigrun-chat history list --limit 10")
			}
			limit = n
		}
		return h.list(limit)
	case "show":
		if err := needRef("rigrun-chat history show 1"); err != nil {
			return err
		}
		return h.show(ref)
	case "search", "find":
		query := strings.TrimSpace(JoinPositionalArgs(p, 1))
		if query == "" {
			return ErrMissingArgument("text", "rigrun-chat history search weather")
		}
		return h.search(query)
	case "export":
		if err := needRef("rigrun-chat history export 1 --format md"); err != nil {
			return err
		}
		return h.export(ref, p.FlagOrDefault("format", "md"), p.Flag("output", "o"))
	case "delete", "rm":
		if err := needRef("rigrun-chat history delete 1 --confirm"); err != nil {
			return err
		}
		return h.delete(ref, p.BoolFlag("confirm", "yes", "y"))
	default:
		return NewValidationErrorWithExample("subcommand", sub, "unknown history subcommand", "rigrun-chat history list")
	}
}

// resolve looks up ref, turning a miss into a NotFoundError.
func (h *historyCmd) resolve(ref string) (*storage.StoredConversation, error) {
	conv, err := storage.Resolve(h.store, ref)
	if storage.IsNotFound(err) {
		return nil, &NotFoundError{Resource: "conversation", ID: ref}
	}
	return conv, err
}

func (h *historyCmd) list(limit int) error {
	metas, err := h.store.List()
	if err != nil {
		return NewCommandError("history", "list", "could not read conversations", err)
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	if h.json {
		return encodeJSON(h.out, map[string]any{"conversations": metas, "count": len(metas)})
	}
	fmt.Fprint(h.out, storage.FormatSessionList(metas))
	if len(metas) == 0 {
		fmt.Fprintln(h.out)
	}
	return nil
}

func (h *historyCmd) search(query string) error {
	metas, err := h.store.Search(query)
	if err != nil {
		return NewCommandError("history", "search", "search failed", err)
	}
	if h.json {
		return encodeJSON(h.out, map[string]any{"query": query, "conversations": metas, "count": len(metas)})
	}
	fmt.Fprint(h.out, storage.FormatSessionList(metas))
	if len(metas) == 0 {
		fmt.Fprintln(h.out)
	}
	return nil
}

func (h *historyCmd) show(ref string) error {
	conv, err := h.resolve(ref)
	if err != nil {
		return err
	}
	if h.json {
		return encodeJSON(h.out, conv)
	}

	md := conv.ExportMarkdown()
	if !h.plain {
		md = renderMarkdown(md)
	}
	fmt.Fprint(h.out, md)
	fmt.Fprintf(h.out, "%s\n", DimStyle.Render(fmt.Sprintf("%d messages, updated %s",
		conv.MessageCount(), humanize.Time(conv.UpdatedAt))))
	return nil
}

func (h *historyCmd) export(ref, format, output string) error {
	conv, err := h.resolve(ref)
	if err != nil {
		return err
	}

	var data []byte
	switch strings.ToLower(format) {
	case "md", "markdown":
		data = []byte(conv.ExportMarkdown())
	case "json":
		data, err = conv.ExportJSON()
		if err != nil {
			return NewCommandError("history", "export", "encoding failed", err)
		}
		data = append(data, '\n')
	default:
		return NewValidationErrorWithExample("format", format, "must be md or json", "--format json")
	}

	if err := writeOutput(h.out, output, data); err != nil {
		return err
	}
	if output != "" && !h.json {
		fmt.Fprintf(h.out, "%s exported %s to %s (%s)\n", SuccessStyle.Render("[OK]"),
			conv.ID, output, humanize.Bytes(uint64(len(data))))
	}
	return nil
}

func (h *historyCmd) delete(ref string, confirmed bool) error {
	conv, err := h.resolve(ref)
	if err != nil {
		return err
	}

	if !confirmed {
		if !IsTTY() || h.json {
			return NewValidationErrorWithExample("confirm", "", "deleting requires --confirm", "rigrun-chat history delete "+ref+" --confirm")
		}
		if !confirm(h.in, h.out, fmt.Sprintf("Delete %q (%s)?", conv.Summary, conv.ID)) {
			fmt.Fprintln(h.out, "Cancelled.")
			return nil
		}
	}

	if err := h.store.Delete(conv.ID); err != nil {
		return NewCommandError("history", "delete", conv.ID, err)
	}
	if h.json {
		return encodeJSON(h.out, map[string]any{"deleted": conv.ID, "at": time.Now().UTC()})
	}
	fmt.Fprintf(h.out, "%s deleted %s\n", SuccessStyle.Render("[OK]"), conv.ID)
	return nil
}
