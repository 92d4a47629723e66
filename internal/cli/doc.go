// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the arena command line: argument parsing, the
// config and models commands, and the line-mode chat REPL.
//
// # Key Types
//
//   - Command: the subcommand to run
//   - Args: parsed global and command-specific flags
//   - ChatSession: a REPL that broadcasts each line to every panel
//   - JSONResponse: the envelope printed for --json
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err != nil {
//	    cli.DisplayError(os.Stderr, err, false)
//	    os.Exit(cli.GetExitCode(err))
//	}
//	switch cmd {
//	case cli.CmdConfig:
//	    err = cli.HandleConfig(cli.ConfigIO{Out: os.Stdout, Err: os.Stderr, In: os.Stdin}, args)
//	// ... other commands
//	}
//
// Handlers return errors rather than printing them; GetExitCode maps an
// error to the process exit status.
package cli
