// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP server command.
//
// Command: serve
//
// Examples:
//   rigrun-chat serve
//   rigrun-chat serve --addr 0.0.0.0:8787
//   RIGRUN_BEARER_TOKEN=secret rigrun-chat serve --no-history

package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/engine"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// HandleServe runs the HTTP server until interrupted.
func HandleServe(args Args) error {
	a, err := loadApp(args, os.Stdout)
	if err != nil {
		return err
	}
	cfg := a.cfg

	addr := args.Parser.FlagOrDefault("addr", cfg.Server.Addr)
	if host, _, err := net.SplitHostPort(addr); err != nil {
		return NewValidationErrorWithExample("addr", addr, "must be host:port", "127.0.0.1:8787")
	} else if ip := net.ParseIP(host); cfg.Server.BearerToken == "" && (host == "" || (ip != nil && !ip.IsLoopback())) {
		a.log.Warn().Str("addr", addr).Msg("listening beyond loopback without a bearer token")
	}

	var store storage.Store
	if !args.Parser.BoolFlag("no-history") {
		store, err = openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	watcher := config.NewWatcher(a.cfgPath, cfg)
	if err := watcher.Start(); err != nil {
		a.log.Debug().Err(err).Msg("config watcher not started")
	}
	defer watcher.Close()

	runner := newEngineRunner(watcher, a.client, a.log)
	logger := a.log.With().Str("component", "server").Logger()

	srv := server.New(server.Options{
		Addr:          addr,
		Runner:        runner,
		Models:        runner,
		Store:         store,
		Think:         cfg.Local.Think,
		BearerToken:   cfg.Server.BearerToken,
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
		Logger:        &logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

// =============================================================================
// ENGINE RUNNER
// =============================================================================

// engineRunner builds an engine for every turn from the current config
// snapshot, so a reloaded config applies from the next turn on. It also
// serves the model listing and health checks.
type engineRunner struct {
	watcher *config.Watcher
	log     zerolog.Logger

	mu     sync.Mutex
	client *ollama.Client
}

func newEngineRunner(w *config.Watcher, client *ollama.Client, log zerolog.Logger) *engineRunner {
	return &engineRunner{watcher: w, client: client, log: log}
}

// clientFor returns a client matching cfg's server settings.
func (r *engineRunner) clientFor(cfg *config.Config) *ollama.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.client.Config()
	if current.BaseURL != cfg.Local.OllamaURL ||
		current.DefaultModel != cfg.Local.Model ||
		current.ConnectTimeout != cfg.Local.ConnectTimeout.Duration {
		r.client = ollama.NewClientWithConfig(cfg.ClientConfig())
		r.log.Info().Str("ollama_url", cfg.Local.OllamaURL).Msg("model client reconfigured")
	}
	return r.client
}

// Run implements server.TurnRunner.
func (r *engineRunner) Run(ctx context.Context, req engine.Request, obs engine.Observer) engine.Outcome {
	cfg := r.watcher.Current()
	eng, err := newEngine(cfg, r.clientFor(cfg))
	if err != nil {
		out := engine.Outcome{
			Kind:   engine.OutcomeFailed,
			Reason: "The server configuration is invalid.",
			Err:    err,
		}
		r.log.Error().Err(err).Msg("cannot build engine")
		obs.OnError(out.Reason, err)
		obs.OnComplete(out)
		return out
	}
	if req.Model == "" {
		req.Model = cfg.Local.Model
	}
	return eng.Run(ctx, req, obs)
}

// CheckRunning implements server.ModelServer.
func (r *engineRunner) CheckRunning(ctx context.Context) error {
	return r.clientFor(r.watcher.Current()).CheckRunning(ctx)
}

// ListModels implements server.ModelServer.
func (r *engineRunner) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return r.clientFor(r.watcher.Current()).ListModels(ctx)
}
