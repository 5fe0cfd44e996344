// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	// Local (Ollama) configuration
	Local LocalConfig `toml:"local"`

	// Web search backing the web_search tool
	Search SearchConfig `toml:"search"`

	// Turn engine behavior
	Engine EngineConfig `toml:"engine"`

	// Conversation history storage
	Storage StorageConfig `toml:"storage"`

	// HTTP server (rigrun-chat serve)
	Server ServerConfig `toml:"server"`

	// Logging
	Log LogConfig `toml:"log"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url"`
	// Model is the default model
	Model string `toml:"model"`
	// Think asks reasoning models to stream their reasoning separately
	Think bool `toml:"think"`
	// ConnectTimeout bounds dialing the server
	ConnectTimeout Duration `toml:"connect_timeout"`
}

// SearchConfig contains web search configuration.
type SearchConfig struct {
	// Provider is "searxng", "duckduckgo" or "none"
	Provider string `toml:"provider"`
	// URL of the search service. For searxng an empty URL means search is
	// not configured; for duckduckgo it overrides the public endpoint.
	URL string `toml:"url"`
	// MaxResults is how many results reach the model (1-10)
	MaxResults int `toml:"max_results"`
	// Timeout for one search request
	Timeout Duration `toml:"timeout"`
	// RatePerMinute caps searches per minute (0 = unlimited)
	RatePerMinute int `toml:"rate_per_minute"`
}

// EngineConfig contains turn engine configuration.
type EngineConfig struct {
	// MaxToolRounds caps tool executions per turn (-1 disables tools)
	MaxToolRounds int `toml:"max_tool_rounds"`
	// ToolPrompt overrides the built-in tool protocol prompt
	ToolPrompt string `toml:"tool_prompt"`
	// DisableToolPrompt omits the tool protocol prompt
	DisableToolPrompt bool `toml:"disable_tool_prompt"`
	// Location is the IANA zone for date/time answers ("" or "local" = system zone)
	Location string `toml:"location"`
}

// StorageConfig contains conversation storage configuration.
type StorageConfig struct {
	// Backend is "json" or "sqlite"
	Backend string `toml:"backend"`
	// Dir holds the store (default: ~/.rigrun-chat/conversations)
	Dir string `toml:"dir"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `toml:"addr"`
	// BearerToken, when set, is required on /api routes
	BearerToken string `toml:"bearer_token"`
	// RatePerSecond is the per-client request rate (0 = unlimited)
	RatePerSecond float64 `toml:"rate_per_second"`
	// Burst is the per-client burst size
	Burst int `toml:"burst"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is trace, debug, info, warn or error
	Level string `toml:"level"`
	// Pretty enables human-readable console output
	Pretty bool `toml:"pretty"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("5s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

// Seconds builds a Duration from whole seconds.
func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	// Bare numbers are seconds.
	if n, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			OllamaURL:      "http://127.0.0.1:11434",
			Model:          "qwen3:8b",
			ConnectTimeout: Seconds(5),
		},
		Search: SearchConfig{
			Provider:      "searxng",
			MaxResults:    5,
			Timeout:       Seconds(15),
			RatePerMinute: 20,
		},
		Engine: EngineConfig{
			MaxToolRounds: 1,
		},
		Storage: StorageConfig{
			Backend: "json",
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8787",
			RatePerSecond: 2,
			Burst:         5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults fills zero-value fields from Default().
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = defaults.Local.OllamaURL
	}
	if c.Local.Model == "" {
		c.Local.Model = defaults.Local.Model
	}
	if c.Local.ConnectTimeout.Duration == 0 {
		c.Local.ConnectTimeout = defaults.Local.ConnectTimeout
	}

	if c.Search.Provider == "" {
		c.Search.Provider = defaults.Search.Provider
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = defaults.Search.MaxResults
	}
	if c.Search.Timeout.Duration == 0 {
		c.Search.Timeout = defaults.Search.Timeout
	}

	if c.Engine.MaxToolRounds == 0 {
		c.Engine.MaxToolRounds = defaults.Engine.MaxToolRounds
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = defaults.Server.Burst
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StorageDir resolves where conversations are stored.
func (c *Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file.
// A missing file yields defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path with defaults, environment
// overrides and validation.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values. Unknown keys are logged, not rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log := logging.Component("config")
		log.Warn().Str("path", path).Strs("keys", keys).Msg("unknown config keys ignored")
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions,
// since it may hold the server bearer token.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# rigrun-chat configuration file\n")
	buf.WriteString("# Environment variables (RIGRUN_*) override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems at once as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Local
	if u, err := url.Parse(c.Local.OllamaURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("local.ollama_url", "must be an http(s) URL, got %q", c.Local.OllamaURL)
	}
	if c.Local.ConnectTimeout.Duration < 0 {
		add("local.connect_timeout", "must be non-negative")
	}

	// Search
	switch strings.ToLower(c.Search.Provider) {
	case "searxng", "duckduckgo", "none":
	default:
		add("search.provider", "invalid provider '%s', must be one of: searxng, duckduckgo, none", c.Search.Provider)
	}
	if c.Search.URL != "" {
		if u, err := url.Parse(c.Search.URL); err != nil || u.Host == "" {
			add("search.url", "invalid URL %q", c.Search.URL)
		}
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 10 {
		add("search.max_results", "must be 1-10, got %d", c.Search.MaxResults)
	}
	if c.Search.Timeout.Duration < 0 {
		add("search.timeout", "must be non-negative")
	}
	if c.Search.RatePerMinute < 0 {
		add("search.rate_per_minute", "must be non-negative")
	}

	// Engine
	if c.Engine.MaxToolRounds < -1 || c.Engine.MaxToolRounds > 5 {
		add("engine.max_tool_rounds", "must be -1 (disabled) to 5, got %d", c.Engine.MaxToolRounds)
	}
	if _, err := c.LoadLocation(); err != nil {
		add("engine.location", "%v", err)
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "json", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: json, sqlite", c.Storage.Backend)
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RatePerSecond < 0 {
		add("server.rate_per_second", "must be non-negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "must be non-negative")
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// LoadLocation resolves Engine.Location. A nil location means the system
// zone, read at the time of use.
func (c *Config) LoadLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Engine.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", name)
	}
	return loc, nil
}

// ClientConfig builds the Ollama client configuration.
func (c *Config) ClientConfig() *ollama.ClientConfig {
	cc := ollama.DefaultConfig()
	cc.BaseURL = c.Local.OllamaURL
	cc.DefaultModel = c.Local.Model
	if c.Local.ConnectTimeout.Duration > 0 {
		cc.ConnectTimeout = c.Local.ConnectTimeout.Duration
	}
	return cc
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "search.max_results").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "search.max_results").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q, expected section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if field.Type() == reflect.TypeOf(Duration{}) {
			var d Duration
			if err := d.UnmarshalText([]byte(strVal)); err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"local.ollama_url",
		"local.model",
		"local.think",
		"local.connect_timeout",
		"search.provider",
		"search.url",
		"search.max_results",
		"search.timeout",
		"search.rate_per_minute",
		"engine.max_tool_rounds",
		"engine.tool_prompt",
		"engine.disable_tool_prompt",
		"engine.location",
		"storage.backend",
		"storage.dir",
		"server.addr",
		"server.bearer_token",
		"server.rate_per_second",
		"server.burst",
		"log.level",
		"log.pretty",
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.BearerToken != "" {
		safe.Server.BearerToken = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
