// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared setup for commands: config, logging, client, engine
// and store construction.

package cli

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// app is the per-invocation environment shared by commands.
type app struct {
	cfgPath string
	cfg     *config.Config
	client  *ollama.Client
	log     zerolog.Logger
}

// resolveConfigPath returns --config or the default config path.
func resolveConfigPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPath()
}

// loadApp loads .env and the config file, applies flag overrides and
// initializes logging to logOut.
func loadApp(args Args, logOut io.Writer) (*app, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, NewCommandError("config", "load", ".env could not be read", err)
	}

	path, err := resolveConfigPath(args)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, args)

	a := &app{
		cfgPath: path,
		cfg:     cfg,
		client:  ollama.NewClientWithConfig(cfg.ClientConfig()),
	}
	a.log = initLogging(cfg, args, logOut)
	return a, nil
}

// applyFlagOverrides applies command-line flags over the loaded config.
func applyFlagOverrides(cfg *config.Config, args Args) {
	if args.Model != "" {
		cfg.Local.Model = args.Model
	}
	if args.Think != nil {
		cfg.Local.Think = *args.Think
	}
	if args.NoTools {
		cfg.Engine.MaxToolRounds = -1
	}
}

// initLogging configures the process logger. -v forces debug and -q
// limits output to errors.
func initLogging(cfg *config.Config, args Args, out io.Writer) zerolog.Logger {
	level := cfg.Log.Level
	switch {
	case args.Verbose:
		level = "debug"
	case args.Quiet:
		level = "error"
	}
	return logging.Init(level, cfg.Log.Pretty, out)
}

// newSearcher builds the configured search backend, or nil when search
// is not configured.
func newSearcher(cfg *config.Config) tools.Searcher {
	var s tools.Searcher
	switch strings.ToLower(cfg.Search.Provider) {
	case "searxng":
		if cfg.Search.URL == "" {
			return nil
		}
		s = tools.NewSearXNGSearcher(cfg.Search.URL, cfg.Search.Timeout.Duration)
	case "duckduckgo":
		s = tools.NewDuckDuckGoSearcher(cfg.Search.URL, cfg.Search.Timeout.Duration)
	default:
		return nil
	}
	if cfg.Search.RatePerMinute > 0 {
		s = tools.NewRateLimitedSearcher(s, cfg.Search.RatePerMinute)
	}
	return s
}

// newEngine builds an engine from one config snapshot.
func newEngine(cfg *config.Config, streams engine.StreamOpener) (*engine.Engine, error) {
	loc, err := cfg.LoadLocation()
	if err != nil {
		return nil, err
	}

	exec := tools.NewExecutor(tools.ExecutorConfig{
		Searcher:   newSearcher(cfg),
		MaxResults: cfg.Search.MaxResults,
		Location:   loc,
	})

	return engine.New(streams, exec, engine.Config{
		MaxToolRounds:     cfg.Engine.MaxToolRounds,
		ToolPrompt:        cfg.Engine.ToolPrompt,
		DisableToolPrompt: cfg.Engine.DisableToolPrompt,
	}), nil
}

// openStore opens the configured conversation store.
func openStore(cfg *config.Config) (storage.Store, error) {
	dir, err := cfg.StorageDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Backend, dir)
	if err != nil {
		return nil, NewCommandError("history", "open", "conversation store unavailable", err)
	}
	return store, nil
}
