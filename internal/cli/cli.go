// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command line parsing for arena.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdServe
	CmdChat
	CmdModels
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdServe:
		return "serve"
	case CmdChat:
		return "chat"
	case CmdModels:
		return "models"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	LogLevel   string
	Quiet      bool
	Verbose    bool
	JSON       bool
	NoRestore  bool

	// Models are the ids given with --model; chat opens one panel per id.
	Models []string

	// serve
	Addr string

	// models
	Refresh bool

	// config
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw holds the arguments after the command name.
	Raw []string
}

const usageText = `arena - compare LLM answers side by side

Usage:
  arena                        Start the terminal workspace (default)
  arena tui                    Start the terminal workspace
  arena serve [--addr ADDR]    Serve the HTTP/WebSocket API
  arena chat [--model ID]...   Line-mode chat broadcast to every panel
  arena models [--refresh]     List available models
  arena config [subcommand]    Show or change configuration
  arena version                Show version information
  arena help                   Show this help

Config subcommands:
  arena config show            Print the effective configuration
  arena config path            Print the config file location
  arena config get <key>       Print one value
  arena config set <key> <val> Change one value and save
  arena config keys            List every key
  arena config set-key         Enter the API key without echo

Global flags:
  --config PATH                Load configuration from PATH
  --log-level LEVEL            debug, info, warn or error
  --model ID                   Model for a new panel (repeatable, or comma separated)
  --no-restore                 Start with an empty workspace
  --json                       Machine readable output (models, config)
  -v, --verbose                Debug logging
  -q, --quiet                  Errors only

Chat commands:
  /add <model>  /remove <n>  /models  /panels  /clear  /export <file> [n]  /help  /quit

Environment:
  ARENA_API_KEY, ARENA_BASE_URL, ARENA_CONFIG, ARENA_LOG_LEVEL, NO_COLOR

Version: %s
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "arena version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// VersionInfo is the --json form of PrintVersion.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// CurrentVersion returns the build's version information.
func CurrentVersion() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command line arguments (without the program name).
// Unknown commands yield CmdHelp and a ValidationError.
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, args, err
	}

	if len(remaining) == 0 {
		return CmdTUI, args, nil
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "tui", "ui":
		return CmdTUI, args, nil

	case "serve", "server":
		p := NewArgParser(remaining)
		args.Addr = p.Flag("addr")
		return CmdServe, args, nil

	case "chat", "repl":
		return CmdChat, args, nil

	case "models", "model", "m":
		p := NewArgParser(remaining)
		args.Refresh = p.BoolFlag("refresh") || p.BoolFlag("r")
		return CmdModels, args, nil

	case "config", "cfg":
		parseConfigArgs(&args, remaining)
		return CmdConfig, args, nil

	case "version", "--version", "-V":
		return CmdVersion, args, nil

	case "help", "--help", "-h":
		return CmdHelp, args, nil
	}

	return CmdHelp, args, NewValidationErrorWithExample("command", cmd,
		"unknown command", "arena help")
}

// parseGlobalFlags extracts flags valid for every command. They may appear
// before or after the command name.
func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var remaining []string
	var args Args

	value := func(i int, name string) (string, error) {
		if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "-") {
			return "", ErrMissingArgument(name, "arena "+name+" <value>")
		}
		return argv[i+1], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		// --name=value forms.
		if name, v, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(name, "--") {
			switch name {
			case "--config":
				args.ConfigPath = v
				continue
			case "--log-level":
				args.LogLevel = v
				continue
			case "--model":
				args.Models = appendModels(args.Models, v)
				continue
			}
		}

		switch arg {
		case "--config", "--log-level", "--model":
			v, err := value(i, strings.TrimPrefix(arg, "--"))
			if err != nil {
				return nil, args, err
			}
			i++
			switch arg {
			case "--config":
				args.ConfigPath = v
			case "--log-level":
				args.LogLevel = v
			default:
				args.Models = appendModels(args.Models, v)
			}
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--json":
			args.JSON = true
		case "--no-restore":
			args.NoRestore = true
		default:
			remaining = append(remaining, arg)
		}
	}

	if args.Quiet && args.Verbose {
		return nil, args, NewValidationError("flags", "-q -v", "--quiet and --verbose are mutually exclusive")
	}
	return remaining, args, nil
}

func appendModels(dst []string, v string) []string {
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			dst = append(dst, id)
		}
	}
	return dst
}

func parseConfigArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Subcommand = strings.ToLower(p.Subcommand())
	if args.Subcommand == "" {
		args.Subcommand = "show"
	}
	args.ConfigKey = p.Positional(1)
	args.ConfigVal = strings.Join(p.PositionalFrom(2), " ")
}

// EffectiveLogLevel resolves -v/-q against --log-level. An empty result
// means the configured level applies.
func (a Args) EffectiveLogLevel() string {
	switch {
	case a.LogLevel != "":
		return a.LogLevel
	case a.Verbose:
		return "debug"
	case a.Quiet:
		return "error"
	default:
		return ""
	}
}
