// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - The "arena config" command.
//
// Subcommands:
//
//	show (default)      Display the effective configuration
//	path                Show the configuration file path
//	get <key>           Print one value
//	set <key> <value>   Change one value and save
//	keys                List every key
//	set-key             Read the API key without echo and save it
//
// Examples:
//
//	arena config set stream.flush_interval_ms 30
//	arena config set server.allowed_origins http://localhost:5173,http://127.0.0.1:5173
//	echo "$KEY" | arena config set-key
package cli

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/imajinxai/llm-arena/internal/config"
)

// ConfigIO bundles the streams the config command talks to.
type ConfigIO struct {
	Out io.Writer
	Err io.Writer
	In  *os.File
}

// HandleConfig runs "arena config <subcommand>".
func HandleConfig(cio ConfigIO, args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return NewCommandError("config", args.Subcommand, "cannot locate config file", err)
	}

	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(cio, args, path)
	case "path":
		return handleConfigPath(cio, args, path)
	case "get":
		return handleConfigGet(cio, args, path)
	case "set":
		return handleConfigSet(cio, args, path)
	case "keys":
		return handleConfigKeys(cio, args)
	case "set-key", "setkey":
		return handleConfigSetKey(cio, path)
	default:
		return NewValidationErrorWithExample("config subcommand", args.Subcommand,
			"unknown subcommand", "arena config show|path|get|set|keys|set-key")
	}
}

func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ActivePath()
}

// loadEffective loads the configuration the other commands would run with.
func loadEffective(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return config.LoadFromPath(path)
	}
	cfg := config.Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

// ConfigEntry is one key in "config show --json".
type ConfigEntry struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Secret bool        `json:"secret,omitempty"`
}

// ConfigData is the --json form of "config show".
type ConfigData struct {
	Path    string        `json:"path"`
	Exists  bool          `json:"exists"`
	Entries []ConfigEntry `json:"entries"`
}

func configEntries(cfg *config.Config) []ConfigEntry {
	keys := config.GetAllKeys()
	entries := make([]ConfigEntry, 0, len(keys))
	for _, key := range keys {
		v, err := cfg.Get(key)
		if err != nil {
			continue
		}
		entry := ConfigEntry{Key: key, Value: v}
		if config.IsSecretKey(key) {
			entry.Secret = true
			entry.Value = maskSecret(fmt.Sprint(v))
		}
		entries = append(entries, entry)
	}
	return entries
}

func handleConfigShow(cio ConfigIO, args Args, path string) error {
	return OutputJSON(cio.Out, args.JSON, "config show", func() (interface{}, error) {
		cfg, err := loadEffective(path)
		if err != nil {
			return nil, NewCommandError("config", "show", "configuration is invalid", err)
		}
		_, statErr := os.Stat(path)
		data := ConfigData{Path: path, Exists: statErr == nil, Entries: configEntries(cfg)}
		if args.JSON {
			return data, nil
		}

		fmt.Fprintln(cio.Out, TitleStyle.Render("arena configuration"))
		fmt.Fprintln(cio.Out, RenderSeparator())
		section := ""
		for _, e := range data.Entries {
			head, _, _ := strings.Cut(e.Key, ".")
			if !strings.Contains(e.Key, ".") {
				head = "general"
			}
			if head != section {
				section = head
				fmt.Fprintln(cio.Out, SectionStyle.Render("["+section+"]"))
			}
			fmt.Fprintf(cio.Out, "  %s%s\n", RenderLabel(e.Key), ValueStyle.Render(formatValue(e.Value)))
		}
		fmt.Fprintln(cio.Out, RenderSeparator())
		note := ""
		if !data.Exists {
			note = DimStyle.Render(" (not created yet, defaults in use)")
		}
		fmt.Fprintf(cio.Out, "Config file: %s%s\n", path, note)
		return data, nil
	})
}

func handleConfigPath(cio ConfigIO, args Args, path string) error {
	return OutputJSON(cio.Out, args.JSON, "config path", func() (interface{}, error) {
		_, err := os.Stat(path)
		exists := err == nil
		if !args.JSON {
			fmt.Fprintln(cio.Out, path)
			if !exists {
				fmt.Fprintln(cio.Err, DimStyle.Render("(file does not exist yet; it is created on first save)"))
			}
		}
		return map[string]interface{}{"path": path, "exists": exists}, nil
	})
}

func handleConfigGet(cio ConfigIO, args Args, path string) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "arena config get server.port")
	}
	return OutputJSON(cio.Out, args.JSON, "config get", func() (interface{}, error) {
		cfg, err := loadEffective(path)
		if err != nil {
			return nil, NewCommandError("config", "get", "configuration is invalid", err)
		}
		v, err := cfg.Get(args.ConfigKey)
		if err != nil {
			return nil, &NotFoundError{Resource: "config key", ID: args.ConfigKey}
		}
		if config.IsSecretKey(args.ConfigKey) {
			v = maskSecret(fmt.Sprint(v))
		}
		if !args.JSON {
			fmt.Fprintln(cio.Out, formatValue(v))
		}
		return ConfigEntry{Key: args.ConfigKey, Value: v, Secret: config.IsSecretKey(args.ConfigKey)}, nil
	})
}

func handleConfigSet(cio ConfigIO, args Args, path string) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "arena config set <key> <value>")
	}
	if args.ConfigVal == "" && !strings.HasSuffix(args.ConfigKey, "allowed_origins") {
		return ErrMissingArgument("value", "arena config set "+args.ConfigKey+" <value>")
	}
	// SECURITY: secrets on the command line end up in shell history.
	if config.IsSecretKey(args.ConfigKey) {
		fmt.Fprintln(cio.Err, WarningStyle.Render("Warning: prefer `arena config set-key` so the value stays out of shell history"))
	}

	if err := updateConfig(path, func(cfg *config.Config) error {
		return cfg.Set(args.ConfigKey, args.ConfigVal)
	}); err != nil {
		return err
	}

	shown := args.ConfigVal
	if config.IsSecretKey(args.ConfigKey) {
		shown = maskSecret(shown)
	}
	fmt.Fprintf(cio.Out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args.ConfigKey, shown)
	return nil
}

func handleConfigKeys(cio ConfigIO, args Args) error {
	return OutputJSON(cio.Out, args.JSON, "config keys", func() (interface{}, error) {
		keys := config.GetAllKeys()
		if !args.JSON {
			for _, k := range keys {
				fmt.Fprintln(cio.Out, k)
			}
		}
		return keys, nil
	})
}

func handleConfigSetKey(cio ConfigIO, path string) error {
	in := cio.In
	if in == nil {
		in = os.Stdin
	}
	key, err := ReadSecret(cio.Err, in, "API key: ")
	if err != nil {
		return NewCommandError("config", "set-key", "could not read key", err)
	}
	if key == "" {
		return NewValidationError("api key", "", "empty key")
	}

	if err := updateConfig(path, func(cfg *config.Config) error {
		cfg.API.APIKey = key
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(cio.Out, "%s API key saved (%s)\n", SuccessStyle.Render("[OK]"), maskSecret(key))
	return nil
}

// updateConfig applies fn to the file's own settings, validates the result
// and saves it atomically.
func updateConfig(path string, fn func(*config.Config) error) error {
	cfg, err := config.LoadForEdit(path)
	if err != nil {
		return NewCommandError("config", "set", "cannot read config file", err)
	}
	if err := fn(cfg); err != nil {
		return NewValidationError("config value", "", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return NewCommandError("config", "set", "value rejected", err)
	}
	if err := config.SaveToPath(cfg, path); err != nil {
		return NewCommandError("config", "set", "cannot save config file", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// maskSecret replaces a secret with a short SHA-256 fingerprint.
// SECURITY: no prefix of the real value is ever shown.
func maskSecret(v string) string {
	if v == "" {
		return "(not set)"
	}
	sum := sha256.Sum256([]byte(v))
	return fmt.Sprintf("sha256:%x...", sum[:4])
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "(none)"
		}
		return strings.Join(val, ",")
	case string:
		if val == "" {
			return "(empty)"
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}
