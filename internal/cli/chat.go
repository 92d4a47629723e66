// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - The "arena chat" line-mode REPL.
//
// Every line typed is broadcast to each panel that has a model, and each
// panel's answer is printed as soon as it settles.
//
// Examples:
//
//	arena chat --model llama-3.3-70b --model qwen-3-32b
//	arena chat --model llama-3.3-70b,qwen-3-32b --no-restore
//
// Interactive commands:
//
//	/add <model>        Put a model in a new panel (or the first empty one)
//	/remove <n>         Remove panel n
//	/models [filter]    List available models
//	/panels             List panels and their models
//	/clear              Clear every panel's history
//	/export <file> [n]  Export panel n (default: all, numbered) to file
//	/help, /h           Show commands
//	/quit, /q           Exit
//	Ctrl+C              Stop the responses in flight
//	Ctrl+D              Exit
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/imajinxai/llm-arena/internal/broadcast"
	"github.com/imajinxai/llm-arena/internal/config"
	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/export"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
	"github.com/imajinxai/llm-arena/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent history for the REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor that reads and writes historyFile. An
// empty path selects chat_history in the config directory.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if historyFile == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		historyFile = filepath.Join(dir, "chat_history")
	}

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// SetCompleter installs tab completion.
func (c *ChatCLI) SetCompleter(f func(string) []string) {
	c.line.SetCompleter(f)
}

// LoadHistory loads history from the history file, if any.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line, recording non-blank input in history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists history.
// SECURITY: 0600, prompts can contain anything.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	_ = c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// ModelFinder resolves and lists models.
type ModelFinder interface {
	Models(ctx context.Context) ([]model.ModelRef, error)
	Find(ctx context.Context, idOrName string) (model.ModelRef, error)
}

// ChatOptions wires a ChatSession.
type ChatOptions struct {
	Store       *panel.Store
	Coordinator *broadcast.Coordinator
	Models      ModelFinder
	Export      *export.Options
	Out         io.Writer
	HistoryFile string
	// Markdown renders settled answers with glamour.
	Markdown bool
	Logger   *slog.Logger
}

// ChatSession is one REPL over a panel store.
type ChatSession struct {
	opts   ChatOptions
	store  *panel.Store
	coord  *broadcast.Coordinator
	out    io.Writer
	logger *slog.Logger

	renderer *glamour.TermRenderer
	started  time.Time
	prompts  int
}

// NewChatSession creates a session. Store and Coordinator are required.
func NewChatSession(opts ChatOptions) *ChatSession {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Export == nil {
		opts.Export = export.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &ChatSession{
		opts:    opts,
		store:   opts.Store,
		coord:   opts.Coordinator,
		out:     opts.Out,
		logger:  opts.Logger,
		started: time.Now(),
	}
	if opts.Markdown && ColorsEnabled() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()-4),
		)
		if err == nil {
			s.renderer = r
		}
	}
	return s
}

// Run adds the initial models and reads lines until /quit or EOF.
func (s *ChatSession) Run(ctx context.Context, initialModels []string) error {
	for _, id := range initialModels {
		if err := s.addModel(ctx, id); err != nil {
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[X]"), err)
		}
	}
	s.printWelcome()

	input := NewChatCLI(s.opts.HistoryFile)
	defer input.Close()
	input.SetCompleter(completeCommand)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := input.ReadInput(s.prompt())
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(s.out, DimStyle.Render("(type /quit or press Ctrl+D to exit)"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(s.out)
			s.printSummary()
			return nil
		case err != nil:
			return NewCommandError("chat", "read", "input failed", err)
		}

		quit, err := s.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[X]"), err)
		}
		if quit {
			s.printSummary()
			return nil
		}
	}
}

func (s *ChatSession) prompt() string {
	return fmt.Sprintf("arena[%d]> ", len(s.coord.Targets()))
}

// Execute handles one line of input. It reports whether the session should
// end.
func (s *ChatSession) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.broadcast(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, rest := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "/quit", "/q", "/exit":
		return true, nil
	case "/help", "/h", "/?":
		s.printHelp()
		return false, nil
	case "/add", "/a":
		if len(rest) == 0 {
			return false, ErrMissingArgument("model", "/add llama-3.3-70b")
		}
		return false, s.addModel(ctx, strings.Join(rest, " "))
	case "/remove", "/rm":
		if len(rest) == 0 {
			return false, ErrMissingArgument("panel number", "/remove 2")
		}
		return false, s.removePanel(rest[0])
	case "/models", "/m":
		return false, s.listModels(ctx, strings.Join(rest, " "))
	case "/panels", "/p":
		s.listPanels()
		return false, nil
	case "/clear", "/c":
		s.clearAll()
		return false, nil
	case "/export", "/e":
		if len(rest) == 0 {
			return false, ErrMissingArgument("file", "/export answers.md")
		}
		n := ""
		if len(rest) > 1 {
			n = rest[1]
		}
		return false, s.exportPanels(rest[0], n)
	default:
		return false, NewValidationErrorWithExample("command", cmd, "unknown command", "/help")
	}
}

// =============================================================================
// BROADCAST
// =============================================================================

// broadcast sends content to every eligible panel and prints each answer
// as it settles. Ctrl+C stops everything still running.
func (s *ChatSession) broadcast(ctx context.Context, content string) error {
	if len(s.coord.Targets()) == 0 {
		return errors.New("no panel has a model; use /add <model> first")
	}

	interrupt, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ids, outcomes := s.coord.SendToAll(ctx, content)
	s.prompts++
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("Sent to %d panels. Ctrl+C stops.", len(ids))))

	stopped := false
	failed := 0
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				if failed > 0 {
					return fmt.Errorf("%d of %d panels failed", failed, len(ids))
				}
				return nil
			}
			if o.Err != nil || o.Result.State == stream.StateErrored {
				failed++
			}
			s.printOutcome(o)
		case <-interrupt.Done():
			if !stopped {
				stopped = true
				n := len(s.coord.StopAll())
				fmt.Fprintln(s.out, WarningStyle.Render(fmt.Sprintf("Stopping %d panels...", n)))
			}
			// Keep draining; each stop settles its send.
			interrupt = context.Background()
		}
	}
}

func (s *ChatSession) printOutcome(o broadcast.Outcome) {
	p, ok := s.store.Get(o.PanelID)
	if !ok {
		return
	}
	idx := model.IndexOf(s.store.Snapshot(), o.PanelID)

	status := ""
	switch {
	case errors.Is(o.Err, dispatch.ErrNotReady):
		status = WarningStyle.Render("not ready")
	case o.Err != nil:
		status = ErrorStyle.Render("failed")
	case o.Result.State == stream.StateCancelled:
		status = WarningStyle.Render("stopped")
	case o.Result.State == stream.StateErrored:
		status = ErrorStyle.Render("error")
	default:
		status = DimStyle.Render(o.Result.Duration.Round(10 * time.Millisecond).String())
	}

	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s  %s\n", PanelHeaderStyle(idx).Render(fmt.Sprintf("[%d] %s", idx+1, p.Model.DisplayName())), status)

	last := p.LastMessage()
	if last == nil || last.Role != model.RoleAssistant {
		if o.Err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(o.Err.Error()))
		}
		return
	}
	fmt.Fprintln(s.out, s.renderAnswer(last.Content))
}

func (s *ChatSession) renderAnswer(content string) string {
	switch {
	case content == "":
		return DimStyle.Render("(no content)")
	case stream.IsNotice(content) || content == dispatch.MissingKeyNotice:
		return ErrorStyle.Render(content)
	case s.renderer != nil:
		if out, err := s.renderer.Render(content); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	return util.WrapWidth(content, GetTerminalWidth()-2)
}

// =============================================================================
// COMMANDS
// =============================================================================

// addModel puts ref in the first panel without a model, creating a panel
// when every panel already has one.
func (s *ChatSession) addModel(ctx context.Context, query string) error {
	if s.opts.Models == nil {
		return errors.New("model catalog unavailable")
	}
	ref, err := s.opts.Models.Find(ctx, query)
	if err != nil {
		return err
	}

	target := ""
	for _, p := range s.store.Snapshot() {
		if !p.HasModel() {
			target = p.ID
			break
		}
	}
	if target == "" {
		target = s.store.Create().ID
	}
	s.store.SetModel(target, ref)

	idx := model.IndexOf(s.store.Snapshot(), target)
	fmt.Fprintf(s.out, "%s Panel %d: %s\n", SuccessStyle.Render("[OK]"), idx+1, ref.DisplayName())
	return nil
}

func (s *ChatSession) panelAt(arg string) (model.Panel, error) {
	n, err := strconv.Atoi(arg)
	panels := s.store.Snapshot()
	if err != nil || n < 1 || n > len(panels) {
		return model.Panel{}, NewValidationError("panel number", arg,
			fmt.Sprintf("must be between 1 and %d", len(panels)))
	}
	return panels[n-1], nil
}

func (s *ChatSession) removePanel(arg string) error {
	p, err := s.panelAt(arg)
	if err != nil {
		return err
	}
	if !s.store.CanRemove() {
		return errors.New("the last panel cannot be removed")
	}
	s.store.Remove(p.ID)
	fmt.Fprintf(s.out, "%s Removed panel %s (%s)\n", SuccessStyle.Render("[OK]"), arg, p.Model.DisplayName())
	return nil
}

func (s *ChatSession) listModels(ctx context.Context, filter string) error {
	if s.opts.Models == nil {
		return errors.New("model catalog unavailable")
	}
	refs, err := s.opts.Models.Models(ctx)
	if err != nil {
		return err
	}
	matched := make([]model.ModelRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Matches(filter) {
			matched = append(matched, ref)
		}
	}
	printModels(s.out, matched, len(refs), filter)
	return nil
}

func (s *ChatSession) listPanels() {
	for i, p := range s.store.Snapshot() {
		meta := fmt.Sprintf("%d msgs", p.MessageCount())
		if p.HasModel() {
			meta += " | " + p.Model.ContextString()
		}
		fmt.Fprintf(s.out, "%s  %s\n",
			PanelHeaderStyle(i).Render(fmt.Sprintf("[%d] %s", i+1, p.Model.DisplayName())),
			DimStyle.Render(meta))
	}
}

func (s *ChatSession) clearAll() {
	n := 0
	for _, p := range s.store.Snapshot() {
		if p.MessageCount() > 0 && s.store.ClearMessages(p.ID) {
			n++
		}
	}
	fmt.Fprintf(s.out, "%s Cleared %d panels\n", SuccessStyle.Render("[OK]"), n)
}

// exportPanels writes panel n to path, or every non-empty panel to
// numbered siblings of path when n is empty and there is more than one.
func (s *ChatSession) exportPanels(path, n string) error {
	exporter, err := export.ForPath(path, s.opts.Export)
	if err != nil {
		return err
	}

	var panels []model.Panel
	if n != "" {
		p, err := s.panelAt(n)
		if err != nil {
			return err
		}
		panels = []model.Panel{p}
	} else {
		for _, p := range s.store.Snapshot() {
			if p.MessageCount() > 0 {
				panels = append(panels, p)
			}
		}
	}
	if len(panels) == 0 {
		return export.ErrEmptyConversation
	}

	ext := filepath.Ext(path)
	for i, p := range panels {
		target := path
		if len(panels) > 1 {
			target = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), i+1, ext)
		}
		if err := export.WriteFile(target, p, exporter); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s Exported %s to %s\n", SuccessStyle.Render("[OK]"), p.Model.DisplayName(), target)
	}
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

var chatCommands = []string{"/add ", "/remove ", "/models", "/panels", "/clear", "/export ", "/help", "/quit"}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range chatCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("arena chat"))
	fmt.Fprintln(s.out, DimStyle.Render("Each line goes to every panel with a model. /help for commands."))
	s.listPanels()
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	rows := [][2]string{
		{"/add <model>", "Put a model in a new panel"},
		{"/remove <n>", "Remove panel n"},
		{"/models [filter]", "List available models"},
		{"/panels", "List panels"},
		{"/clear", "Clear every panel's history"},
		{"/export <file> [n]", "Export panel n, or all panels"},
		{"/quit", "Exit (Ctrl+D)"},
		{"Ctrl+C", "Stop the responses in flight"},
	}
	for _, r := range rows {
		fmt.Fprintf(s.out, "  %s%s\n", RenderLabel(r[0]), r[1])
	}
}

func (s *ChatSession) printSummary() {
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("%d prompts across %d panels in %s",
		s.prompts, s.store.Len(), time.Since(s.started).Round(time.Second))))
}
