// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command.
//
// Command: status
// Aliases: s
//
// Examples:
//   rigrun-chat status            Show model server, model, search and storage status
//   rigrun-chat status --json     Status in JSON format
//
// Sections:
//   Model server:  reachability, version, configured model availability
//   Tools:         search provider and whether it is configured
//   Storage:       backend, location and saved conversation count

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// StatusData is the status report, also the --json output.
type StatusData struct {
	Ollama  StatusOllama  `json:"ollama"`
	Tools   StatusTools   `json:"tools"`
	Storage StatusStorage `json:"storage"`
	Config  string        `json:"config_path"`
}

// StatusOllama describes the model server.
type StatusOllama struct {
	URL            string        `json:"url"`
	Running        bool          `json:"running"`
	Version        string        `json:"version,omitempty"`
	Error          string        `json:"error,omitempty"`
	Model          string        `json:"model"`
	ModelInstalled bool          `json:"model_installed"`
	Models         []StatusModel `json:"models,omitempty"`
}

// StatusModel is one installed model.
type StatusModel struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// StatusTools describes tool availability.
type StatusTools struct {
	Enabled          bool   `json:"enabled"`
	SearchProvider   string `json:"search_provider"`
	SearchConfigured bool   `json:"search_configured"`
	Location         string `json:"location"`
}

// StatusStorage describes conversation storage.
type StatusStorage struct {
	Backend       string `json:"backend"`
	Dir           string `json:"dir"`
	Conversations int    `json:"conversations"`
	Error         string `json:"error,omitempty"`
}

// HandleStatus handles the "status" command.
func HandleStatus(args Args) error {
	a, err := loadApp(args, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data := collectStatus(ctx, a)

	if args.JSON {
		return outputJSON(data)
	}
	printStatus(os.Stdout, data)
	return nil
}

// collectStatus gathers the status report. Failures are recorded in the
// report rather than returned.
func collectStatus(ctx context.Context, a *app) StatusData {
	cfg := a.cfg
	data := StatusData{Config: a.cfgPath}

	data.Ollama = StatusOllama{URL: cfg.Local.OllamaURL, Model: cfg.Local.Model}
	if err := a.client.CheckRunning(ctx); err != nil {
		data.Ollama.Error = describeClientError(err)
	} else {
		data.Ollama.Running = true
		if v, err := a.client.Version(ctx); err == nil {
			data.Ollama.Version = v
		}
		if models, err := a.client.ListModels(ctx); err == nil {
			data.Ollama.ModelInstalled = hasModel(models, cfg.Local.Model)
			for _, m := range models {
				data.Ollama.Models = append(data.Ollama.Models, StatusModel{Name: m.Name, Size: m.FormatSize()})
			}
		}
	}

	data.Tools = StatusTools{
		Enabled:          cfg.Engine.MaxToolRounds >= 0,
		SearchProvider:   cfg.Search.Provider,
		SearchConfigured: newSearcher(cfg) != nil,
		Location:         cfg.Engine.Location,
	}
	if data.Tools.Location == "" {
		data.Tools.Location = "local"
	}

	data.Storage = StatusStorage{Backend: cfg.Storage.Backend}
	if dir, err := cfg.StorageDir(); err == nil {
		data.Storage.Dir = dir
	}
	store, err := openStore(cfg)
	if err != nil {
		data.Storage.Error = err.Error()
		return data
	}
	defer store.Close()
	if metas, err := store.List(); err != nil {
		data.Storage.Error = err.Error()
	} else {
		data.Storage.Conversations = len(metas)
	}
	return data
}

func describeClientError(err error) string {
	switch {
	case ollama.IsNotRunning(err):
		return "not running"
	case ollama.IsTimeout(err):
		return "timed out"
	default:
		return err.Error()
	}
}

// printStatus writes the human-readable report.
func printStatus(w io.Writer, data StatusData) {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(label, 14), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("rigrun-chat Status"))
	fmt.Fprintln(w, RenderSeparator(41))

	fmt.Fprintln(w, SectionStyle.Render("Model server"))
	row("URL:", data.Ollama.URL)
	switch {
	case !data.Ollama.Running:
		row("Ollama:", ErrorStyle.Render("Unavailable ("+data.Ollama.Error+")"))
	case data.Ollama.Version != "":
		row("Ollama:", SuccessStyle.Render("Running (v"+data.Ollama.Version+")"))
	default:
		row("Ollama:", SuccessStyle.Render("Running"))
	}
	switch {
	case !data.Ollama.Running:
		row("Model:", data.Ollama.Model)
	case data.Ollama.ModelInstalled:
		row("Model:", SuccessStyle.Render(data.Ollama.Model+" (installed)"))
	default:
		row("Model:", WarningStyle.Render(data.Ollama.Model+" (not installed)"))
	}
	if len(data.Ollama.Models) > 0 {
		names := make([]string, 0, len(data.Ollama.Models))
		for _, m := range data.Ollama.Models {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Size))
		}
		row("Installed:", strings.Join(names, ", "))
	}

	fmt.Fprintln(w, SectionStyle.Render("Tools"))
	if !data.Tools.Enabled {
		row("Tools:", DimStyle.Render("disabled"))
	} else {
		search := data.Tools.SearchProvider
		if !data.Tools.SearchConfigured {
			search += WarningStyle.Render(" (not configured)")
		}
		row("Web search:", search)
		row("Time zone:", data.Tools.Location)
	}

	fmt.Fprintln(w, SectionStyle.Render("Storage"))
	row("Backend:", data.Storage.Backend)
	row("Location:", data.Storage.Dir)
	if data.Storage.Error != "" {
		row("Saved:", ErrorStyle.Render(data.Storage.Error))
	} else {
		row("Saved:", fmt.Sprintf("%d conversations", data.Storage.Conversations))
	}
	row("Config:", data.Config)
	fmt.Fprintln(w)
}
