// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every override variable name.
const envPrefix = "RIGRUN"

// envOverrides lists the RIGRUN_* variables. Pointer fields distinguish
// "unset" from the zero value; envconfig only allocates them when the
// variable is present.
type envOverrides struct {
	OllamaURL      string        `envconfig:"OLLAMA_URL"`
	Model          string        `envconfig:"MODEL"`
	Think          *bool         `envconfig:"THINK"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`

	SearchProvider string `envconfig:"SEARCH_PROVIDER"`
	SearchURL      string `envconfig:"SEARCH_URL"`
	SearchMax      *int   `envconfig:"SEARCH_MAX_RESULTS"`

	MaxToolRounds *int   `envconfig:"MAX_TOOL_ROUNDS"`
	Location      string `envconfig:"LOCATION"`

	StorageBackend string `envconfig:"STORAGE_BACKEND"`
	StorageDir     string `envconfig:"STORAGE_DIR"`

	ServerAddr  string `envconfig:"SERVER_ADDR"`
	BearerToken string `envconfig:"BEARER_TOKEN"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogPretty *bool  `envconfig:"LOG_PRETTY"`
}

// LoadDotEnv loads variables from the given .env files (default: ./.env)
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies RIGRUN_* environment variables.
//
// Supported variables:
//   - RIGRUN_OLLAMA_URL, RIGRUN_MODEL, RIGRUN_THINK, RIGRUN_CONNECT_TIMEOUT
//   - RIGRUN_SEARCH_PROVIDER, RIGRUN_SEARCH_URL, RIGRUN_SEARCH_MAX_RESULTS
//   - RIGRUN_MAX_TOOL_ROUNDS, RIGRUN_LOCATION
//   - RIGRUN_STORAGE_BACKEND, RIGRUN_STORAGE_DIR
//   - RIGRUN_SERVER_ADDR, RIGRUN_BEARER_TOKEN
//   - RIGRUN_LOG_LEVEL, RIGRUN_LOG_PRETTY
func (c *Config) ApplyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	setString(&c.Local.OllamaURL, env.OllamaURL)
	setString(&c.Local.Model, env.Model)
	if env.Think != nil {
		c.Local.Think = *env.Think
	}
	if env.ConnectTimeout > 0 {
		c.Local.ConnectTimeout = Duration{env.ConnectTimeout}
	}

	setString(&c.Search.Provider, env.SearchProvider)
	setString(&c.Search.URL, env.SearchURL)
	if env.SearchMax != nil {
		c.Search.MaxResults = *env.SearchMax
	}

	if env.MaxToolRounds != nil {
		c.Engine.MaxToolRounds = *env.MaxToolRounds
	}
	setString(&c.Engine.Location, env.Location)

	setString(&c.Storage.Backend, env.StorageBackend)
	setString(&c.Storage.Dir, env.StorageDir)

	setString(&c.Server.Addr, env.ServerAddr)
	setString(&c.Server.BearerToken, env.BearerToken)

	setString(&c.Log.Level, env.LogLevel)
	if env.LogPretty != nil {
		c.Log.Pretty = *env.LogPretty
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
