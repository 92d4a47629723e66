// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// arena - compare LLM answers side by side.
//
// Usage:
//
//	arena                 Start the terminal workspace
//	arena serve           Serve the HTTP/WebSocket API
//	arena chat            Line-mode chat broadcast to every panel
//	arena models          List available models
//	arena config          Show or change configuration
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imajinxai/llm-arena/internal/cli"
	"github.com/imajinxai/llm-arena/internal/server"
	"github.com/imajinxai/llm-arena/internal/ui/styles"
	"github.com/imajinxai/llm-arena/internal/ui/workspace"
)

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
	server.Version = Version
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit code.
func run(argv []string) int {
	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		if !args.JSON {
			fmt.Fprintln(os.Stderr)
			cli.PrintUsage(os.Stderr)
		}
		return cli.GetExitCode(err)
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return cli.ExitSuccess

	case cli.CmdVersion:
		if args.JSON {
			cli.NewJSONResponse("version", cli.CurrentVersion()).Print(os.Stdout)
		} else {
			cli.PrintVersion(os.Stdout)
		}
		return cli.ExitSuccess

	case cli.CmdConfig:
		err = cli.HandleConfig(cli.ConfigIO{Out: os.Stdout, Err: os.Stderr, In: os.Stdin}, args)

	case cli.CmdModels:
		err = runModels(args)

	case cli.CmdServe:
		err = runServe(args)

	case cli.CmdChat:
		err = runChat(args)

	default:
		err = runTUI(args)
	}

	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

// =============================================================================
// COMMANDS
// =============================================================================

func runModels(args cli.Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, args, modeModels)
	if err != nil {
		return err
	}
	defer a.Close()

	return cli.HandleModels(ctx, os.Stdout, a.catalog, args)
}

func runServe(args cli.Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, args, modeServe)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := server.OptionsFromConfig(a.cfg, a.logger)
	if args.Addr != "" {
		opts.Addr = args.Addr
	}
	srv := server.New(a.store, a.dispatcher, a.catalog, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "arena %s serving on http://%s (Ctrl+C to stop)\n", Version, opts.Addr)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func runChat(args cli.Args) error {
	// Ctrl+C belongs to the session: it stops a broadcast or clears the line.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, args, modeChat)
	if err != nil {
		return err
	}
	defer a.Close()

	session := cli.NewChatSession(cli.ChatOptions{
		Store:       a.store,
		Coordinator: a.coord,
		Models:      a.catalog,
		Out:         os.Stdout,
		Markdown:    a.cfg.UI.RenderMarkdown,
		Logger:      a.logger,
	})
	return session.Run(ctx, args.Models)
}

func runTUI(args cli.Args) error {
	if err := cli.RequiresTTY("tui"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, args, modeTUI)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.addInitialModels(ctx, args.Models); err != nil {
		a.logger.Warn("initial models not added", "error", err)
	}

	m := workspace.New(ctx, workspace.Options{
		Store:          a.store,
		Sender:         a.dispatcher,
		Coordinator:    a.coord,
		Models:         a.catalog,
		Theme:          styles.NewTheme(a.cfg.UI.Theme),
		ExportDir:      ".",
		RenderMarkdown: a.cfg.UI.RenderMarkdown,
		Logger:         a.logger,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running arena: %w", err)
	}
	return nil
}
