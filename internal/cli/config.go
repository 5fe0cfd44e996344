// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Display the effective configuration
//   path                Show configuration file path
//   init [--force]      Write a default configuration file
//   get <key>           Print one value
//   set <key> <value>   Set one value in the file
//   keys                List all keys
//
// Examples:
//   rigrun-chat config show --json
//   rigrun-chat config set search.provider duckduckgo
//   rigrun-chat config set engine.location Europe/Oslo
//   rigrun-chat config get local.model

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

// secretKeys are masked in show and get output.
var secretKeys = map[string]bool{
	"server.bearer_token": true,
}

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	path, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	p := args.Parser

	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(os.Stdout, args, path)
	case "path":
		if args.JSON {
			return outputJSON(map[string]string{"path": path})
		}
		fmt.Println(path)
		return nil
	case "init":
		return handleConfigInit(os.Stdout, path, p.BoolFlag("force"))
	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "rigrun-chat config get local.model")
		}
		return handleConfigGet(os.Stdout, args, path, key)
	case "set":
		key, value := p.Positional(1), strings.Join(p.PositionalFrom(2), " ")
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "rigrun-chat config set search.provider duckduckgo")
		}
		return handleConfigSet(os.Stdout, path, key, value)
	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Println(k)
		}
		return nil
	default:
		return NewValidationErrorWithExample("subcommand", args.Subcommand, "unknown config subcommand", "rigrun-chat config show")
	}
}

// effectiveConfig loads the config the other commands would use.
func effectiveConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.LoadFile(path)
}

// configValues returns every key with its display value.
func configValues(cfg *config.Config) (map[string]string, error) {
	values := make(map[string]string)
	for _, key := range config.GetAllKeys() {
		v, err := cfg.Get(key)
		if err != nil {
			return nil, err
		}
		values[key] = displayValue(key, v)
	}
	return values, nil
}

func displayValue(key string, v any) string {
	s := fmt.Sprint(v)
	if d, ok := v.(config.Duration); ok {
		s = d.String()
	}
	if secretKeys[key] {
		return maskSecret(s)
	}
	return s
}

// maskSecret keeps the first and last two characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}
}

func handleConfigShow(w io.Writer, args Args, path string) error {
	cfg, err := effectiveConfig(path)
	if err != nil {
		return err
	}

	if args.JSON {
		values, err := configValues(cfg)
		if err != nil {
			return err
		}
		return outputJSON(map[string]any{"path": path, "values": values})
	}

	fmt.Fprintln(w, DimStyle.Render("# "+path))
	fmt.Fprint(w, cfg.String())
	return nil
}

func handleConfigGet(w io.Writer, args Args, path, key string) error {
	cfg, err := effectiveConfig(path)
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &NotFoundError{Resource: "config key", ID: key}
	}
	if args.JSON {
		return outputJSON(map[string]string{"key": key, "value": displayValue(key, v)})
	}
	fmt.Fprintln(w, displayValue(key, v))
	return nil
}

// fileConfig loads only the file and defaults, so environment overrides
// never get written back.
func fileConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if err := config.LoadTOML(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return cfg, nil
}

func handleConfigSet(w io.Writer, path, key, value string) error {
	cfg, err := fileConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "rigrun-chat config keys")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return NewCommandError("config", "set", "could not save", err)
	}

	v, _ := cfg.Get(key)
	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, displayValue(key, v))
	return nil
}

func handleConfigInit(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return NewCommandError("config", "init", "file exists (use --force to overwrite)", errors.New(path))
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return NewCommandError("config", "init", "could not write", err)
	}
	fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}
