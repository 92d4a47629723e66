// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for llm-arena.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $ARENA_CONFIG
//   - ~/.llm-arena/config.toml
//   - ~/.llm-arena/config.json
//   - ~/.llm-arena/config.yaml
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete llm-arena configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	API     APIConfig     `toml:"api" json:"api" yaml:"api"`
	Stream  StreamConfig  `toml:"stream" json:"stream" yaml:"stream"`
	Server  ServerConfig  `toml:"server" json:"server" yaml:"server"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	UI      UIConfig      `toml:"ui" json:"ui" yaml:"ui"`
	Log     LogConfig     `toml:"log" json:"log" yaml:"log"`
}

// APIConfig holds the OpenAI-compatible endpoint settings.
type APIConfig struct {
	// BaseURL is the API root; "/chat/completions" and "/models" are appended.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// APIKey is sent as a bearer token. Never logged.
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`

	// ExtendedSampling sends top_k, presence_penalty and frequency_penalty.
	// Off by default because not every endpoint accepts them.
	ExtendedSampling bool `toml:"extended_sampling" json:"extended_sampling" yaml:"extended_sampling"`

	// RequestTimeoutSecs bounds the wait for response headers.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs" yaml:"request_timeout_secs"`
}

// StreamConfig controls stream assembly.
type StreamConfig struct {
	FlushIntervalMs int `toml:"flush_interval_ms" json:"flush_interval_ms" yaml:"flush_interval_ms"`
	MaxFrameBytes   int `toml:"max_frame_bytes" json:"max_frame_bytes" yaml:"max_frame_bytes"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string   `toml:"addr" json:"addr" yaml:"addr"`
	Port            int      `toml:"port" json:"port" yaml:"port"`
	AllowedOrigins  []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitPerSec float64  `toml:"rate_limit_per_sec" json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateBurst       int      `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`

	// AuthToken, when set, is required as a Bearer token on every API call.
	AuthToken string `toml:"auth_token" json:"auth_token" yaml:"auth_token"`
}

// StorageConfig controls workspace persistence.
type StorageConfig struct {
	Enabled            bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path               string `toml:"path" json:"path" yaml:"path"`
	AutosaveDebounceMs int    `toml:"autosave_debounce_ms" json:"autosave_debounce_ms" yaml:"autosave_debounce_ms"`
}

// UIConfig holds terminal UI preferences.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme" yaml:"theme"`
	SyncMode       bool   `toml:"sync_mode" json:"sync_mode" yaml:"sync_mode"`
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown" yaml:"render_markdown"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `toml:"level" json:"level" yaml:"level"`

	// File redirects logs from stderr to a file. The terminal workspace
	// uses DefaultLogFile when it is empty.
	File string `toml:"file" json:"file" yaml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// CurrentVersion is written to new config files.
	CurrentVersion = "1"

	DefaultPort             = 8790
	DefaultFlushIntervalMs  = 50
	DefaultMaxFrameBytes    = 1 << 20
	DefaultRequestTimeout   = 60
	DefaultRateLimitPerSec  = 20
	DefaultRateBurst        = 40
	DefaultAutosaveDebounce = 750

	minFlushIntervalMs    = 10
	maxFlushIntervalMs    = 1000
	minFrameBytes         = 4 << 10
	maxRequestTimeoutSecs = 600
)

// Default returns a Config with default values.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".llm-arena"
	}
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:            cloud.DefaultBaseURL,
			RequestTimeoutSecs: DefaultRequestTimeout,
		},
		Stream: StreamConfig{
			FlushIntervalMs: DefaultFlushIntervalMs,
			MaxFrameBytes:   DefaultMaxFrameBytes,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1",
			Port:            DefaultPort,
			RateLimitPerSec: DefaultRateLimitPerSec,
			RateBurst:       DefaultRateBurst,
		},
		Storage: StorageConfig{
			Enabled:            true,
			Path:               filepath.Join(dir, "workspace.db"),
			AutosaveDebounceMs: DefaultAutosaveDebounce,
		},
		UI: UIConfig{
			Theme:          "dark",
			RenderMarkdown: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Credentials returns the endpoint and key the dispatcher and catalog use.
// It makes *Config a cloud.CredentialSource.
func (c *Config) Credentials() cloud.Credentials {
	return cloud.Credentials{BaseURL: c.API.BaseURL, APIKey: c.API.APIKey}
}

// FlushInterval returns the stream flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Stream.FlushIntervalMs) * time.Millisecond
}

// RequestTimeout returns the response header timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSecs) * time.Second
}

// AutosaveDebounce returns the quiet period before a workspace autosave.
func (c *Config) AutosaveDebounce() time.Duration {
	return time.Duration(c.Storage.AutosaveDebounceMs) * time.Millisecond
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the llm-arena configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".llm-arena"), nil
}

// DefaultLogFile is where the terminal workspace logs when log.file is
// unset. Other commands log to stderr.
func DefaultLogFile() string {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".llm-arena"
	}
	return filepath.Join(dir, "arena.log")
}

func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPathTOML returns the path to the TOML config file.
// ARENA_CONFIG replaces it when set.
func ConfigPathTOML() (string, error) {
	if p := os.Getenv("ARENA_CONFIG"); p != "" {
		return p, nil
	}
	return configPath("config.toml")
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	return configPath("config.json")
}

// ConfigPathYAML returns the path to the YAML config file.
func ConfigPathYAML() (string, error) {
	return configPath("config.yaml")
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the first config file that exists.
// Tries TOML, then JSON, then YAML, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	candidates := []func() (string, error){ConfigPathTOML, ConfigPathJSON, ConfigPathYAML}
	if os.Getenv("ARENA_CONFIG") != "" {
		candidates = candidates[:1]
	}

	for _, pathFn := range candidates {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			var verrs ValidateErrors
			if errors.As(err, &verrs) {
				return nil, err
			}
			loadErr = err
			continue
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Defaults, with any load error for informational purposes.
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadYAML loads configuration from a YAML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadYAML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
// The format is chosen by extension; anything unrecognised is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# llm-arena configuration file\n")
	b.WriteString("# Generated by arena - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// API
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Host == "" {
			add("api.base_url", "invalid URL %q", c.API.BaseURL)
		} else if u.Scheme != "http" && u.Scheme != "https" {
			add("api.base_url", "scheme must be http or https, got %q", u.Scheme)
		}
	}
	if c.API.RequestTimeoutSecs < 1 || c.API.RequestTimeoutSecs > maxRequestTimeoutSecs {
		add("api.request_timeout_secs", "must be between 1 and %d, got %d", maxRequestTimeoutSecs, c.API.RequestTimeoutSecs)
	}

	// Stream
	if c.Stream.FlushIntervalMs < minFlushIntervalMs || c.Stream.FlushIntervalMs > maxFlushIntervalMs {
		add("stream.flush_interval_ms", "must be between %d and %d, got %d", minFlushIntervalMs, maxFlushIntervalMs, c.Stream.FlushIntervalMs)
	}
	if c.Stream.MaxFrameBytes < minFrameBytes {
		add("stream.max_frame_bytes", "must be at least %d, got %d", minFrameBytes, c.Stream.MaxFrameBytes)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerSec <= 0 {
		add("server.rate_limit_per_sec", "must be positive, got %g", c.Server.RateLimitPerSec)
	}
	if c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1, got %d", c.Server.RateBurst)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.allowed_origins", "invalid origin %q", origin)
		}
	}

	// Storage
	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "required when storage is enabled")
	}
	if c.Storage.AutosaveDebounceMs < 0 {
		add("storage.autosave_debounce_ms", "must not be negative, got %d", c.Storage.AutosaveDebounceMs)
	}

	// UI
	switch strings.ToLower(c.UI.Theme) {
	case "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.RequestTimeoutSecs == 0 {
		c.API.RequestTimeoutSecs = d.API.RequestTimeoutSecs
	}
	if c.Stream.FlushIntervalMs == 0 {
		c.Stream.FlushIntervalMs = d.Stream.FlushIntervalMs
	}
	if c.Stream.MaxFrameBytes == 0 {
		c.Stream.MaxFrameBytes = d.Stream.MaxFrameBytes
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.RateLimitPerSec == 0 {
		c.Server.RateLimitPerSec = d.Server.RateLimitPerSec
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	c.Storage.Path = expandHome(c.Storage.Path)
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Log.File = expandHome(c.Log.File)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - ARENA_API_KEY: overrides api.api_key
//   - OPENAI_API_KEY: used for api.api_key when nothing else sets it
//   - ARENA_BASE_URL: overrides api.base_url
//   - ARENA_FLUSH_MS: overrides stream.flush_interval_ms
//   - ARENA_PORT: overrides server.port
//   - ARENA_LOG_LEVEL: overrides log.level
//   - ARENA_AUTH_TOKEN: overrides server.auth_token
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("ARENA_API_KEY"); key != "" {
		c.API.APIKey = key
	} else if c.API.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.API.APIKey = key
		}
	}

	if base := os.Getenv("ARENA_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}

	if ms := os.Getenv("ARENA_FLUSH_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			c.Stream.FlushIntervalMs = n
		}
	}

	if port := os.Getenv("ARENA_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}

	if level := os.Getenv("ARENA_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if token := os.Getenv("ARENA_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
}

// =============================================================================
// EDITING
// =============================================================================

// SaveYAML saves the configuration to a YAML file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveToPath saves cfg in the format implied by the path's extension.
func SaveToPath(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return SaveJSON(cfg, path)
	case ".yaml", ".yml":
		return SaveYAML(cfg, path)
	default:
		return SaveTOML(cfg, path)
	}
}

// ActivePath returns the file Load would read, or the default TOML path
// when none exists yet.
func ActivePath() (string, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON, ConfigPathYAML} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if os.Getenv("ARENA_CONFIG") != "" {
			return path, nil
		}
	}
	return ConfigPathTOML()
}

// LoadForEdit reads path without environment overrides, so saving the
// result never persists a value that only came from the environment.
// A missing file yields defaults.
func LoadForEdit(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = LoadJSON(cfg, path)
		case ".yaml", ".yml":
			err = LoadYAML(cfg, path)
		default:
			err = LoadTOML(cfg, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	cfg.SetDefaults()
	return cfg, nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "stream.flush_interval_ms").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "server.port").
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

// lookup walks the struct tree one dotted segment at a time.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

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
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
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
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
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
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
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

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"api.base_url",
		"api.api_key",
		"api.extended_sampling",
		"api.request_timeout_secs",
		"stream.flush_interval_ms",
		"stream.max_frame_bytes",
		"server.addr",
		"server.port",
		"server.allowed_origins",
		"server.rate_limit_per_sec",
		"server.rate_burst",
		"server.auth_token",
		"storage.enabled",
		"storage.path",
		"storage.autosave_debounce_ms",
		"ui.theme",
		"ui.sync_mode",
		"ui.render_markdown",
		"log.level",
		"log.file",
	}
}

// IsSecretKey reports whether the value behind key must never be printed.
func IsSecretKey(key string) bool {
	return strings.EqualFold(key, "api.api_key") || strings.EqualFold(key, "server.auth_token")
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts secrets so they never land in logs or terminal output.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.APIKey != "" {
		safe.API.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
			cfg.ApplyEnvOverrides()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
