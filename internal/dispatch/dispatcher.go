// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch sends a panel's conversation to the endpoint and streams
// the answer back into the panel store.
//
// Each request owns a cancellable handle keyed by panel id. Sending again
// on the same panel cancels the previous request. Only the request that
// still owns the handle when it settles clears the panel's generating flag,
// so a superseded request cannot end a newer one early.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
	"github.com/imajinxai/llm-arena/internal/tokens"
)

// MissingKeyNotice is shown in a panel when no API key is configured.
const MissingKeyNotice = "⚠️ **API Key not configured**\n\n" +
	"Set your API key with `arena config set-key` or the ARENA_API_KEY environment variable, " +
	"and configure the base URL if you are not using the default endpoint."

var (
	// ErrNotReady means the panel does not exist or has no model selected.
	ErrNotReady = errors.New("panel not ready")

	// ErrEmptyPrompt means the message had no visible content.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrBusy means Start found the panel already generating.
	ErrBusy = errors.New("panel is already generating")
)

// Transport builds and opens streamed completions. *cloud.Client implements it.
type Transport interface {
	BuildRequest(modelID string, history []model.Message, cfg model.GenerationConfig) cloud.ChatRequest
	Open(ctx context.Context, creds cloud.Credentials, req cloud.ChatRequest) (*http.Response, error)
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher issues requests on behalf of panels.
type Dispatcher struct {
	store     *panel.Store
	transport Transport
	creds     cloud.CredentialSource
	assembler *stream.Assembler
	logger    *slog.Logger
	handles   *handleRegistry
	inflight  sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAssembler replaces the default stream assembler.
func WithAssembler(a *stream.Assembler) Option {
	return func(d *Dispatcher) { d.assembler = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher writing into store.
func New(store *panel.Store, transport Transport, creds cloud.CredentialSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		transport: transport,
		creds:     creds,
		logger:    slog.Default(),
		handles:   newHandleRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.assembler == nil {
		d.assembler = stream.NewAssembler(stream.WithLogger(d.logger))
	}
	return d
}

// Store returns the panel store the dispatcher writes into.
func (d *Dispatcher) Store() *panel.Store {
	return d.store
}

// Send appends content as a user message and streams the answer.
//
// Send blocks until the request settles; run it in a goroutine for
// fire-and-forget use. The returned error is non-nil only when no request
// was issued: ErrNotReady and ErrEmptyPrompt leave the panel untouched,
// cloud.ErrNotConfigured leaves a warning message in the panel. Every other
// outcome, including failures shown in the panel, is described by the
// Result.
func (d *Dispatcher) Send(ctx context.Context, panelID, content string) (stream.Result, error) {
	if strings.TrimSpace(content) == "" {
		return stream.Result{}, ErrEmptyPrompt
	}

	p, ok := d.store.StartTurn(panelID, content)
	if !ok {
		return stream.Result{}, ErrNotReady
	}

	t := d.begin(ctx, p)
	defer d.finish(t)
	return d.execute(t)
}

// Start is the non-interrupting form of Send. It claims the panel and
// registers the request before returning, then streams in the background.
// A panel that is already generating is refused with ErrBusy, so two
// concurrent Starts on one panel never both issue a request.
//
// The channel receives the Result once the request settles. When no request
// was issued because the key is missing, Result.Err is cloud.ErrNotConfigured.
func (d *Dispatcher) Start(ctx context.Context, panelID, content string) (<-chan stream.Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyPrompt
	}

	p, ok := d.store.ClaimTurn(panelID, content)
	if !ok {
		if cur, found := d.store.Get(panelID); found && cur.HasModel() && cur.Generating {
			return nil, ErrBusy
		}
		return nil, ErrNotReady
	}

	t := d.begin(ctx, p)
	done := make(chan stream.Result, 1)
	go func() {
		defer d.finish(t)
		res, err := d.execute(t)
		if err != nil && res.Err == nil {
			res.Err = err
		}
		done <- res
		close(done)
	}()
	return done, nil
}

// turn is one claimed request: the panel as it was claimed and the handle
// registered for it.
type turn struct {
	panel  model.Panel
	ctx    context.Context
	cancel context.CancelFunc
	token  uint64
}

// begin registers the abort handle, cancelling any previous request for
// the panel.
func (d *Dispatcher) begin(ctx context.Context, p model.Panel) *turn {
	d.inflight.Add(1)
	reqCtx, cancel := context.WithCancel(ctx)
	return &turn{
		panel:  p,
		ctx:    reqCtx,
		cancel: cancel,
		token:  d.handles.register(p.ID, cancel),
	}
}

// finish releases the handle. Only the current request for a panel clears
// its generating flag.
func (d *Dispatcher) finish(t *turn) {
	if d.handles.release(t.panel.ID, t.token) {
		d.store.SetGenerating(t.panel.ID, false)
	}
	t.cancel()
	d.inflight.Done()
}

// execute issues the request for a claimed turn and assembles the answer.
func (d *Dispatcher) execute(t *turn) (stream.Result, error) {
	p, panelID, reqCtx := t.panel, t.panel.ID, t.ctx

	creds := d.creds.Credentials()
	if !creds.Configured() {
		d.store.AppendMessage(panelID, model.NewAssistantMessage(MissingKeyNotice))
		d.logger.Warn("send skipped: API key not configured", "panel", panelID)
		return stream.Result{}, cloud.ErrNotConfigured
	}

	log := d.logger.With("panel", panelID, "model", p.Model.ID)
	budget := tokens.Check(p.Messages, p.Config, p.Model.ContextWindow)
	if budget.Over() {
		log.Warn("prompt may exceed context window",
			"prompt_tokens", budget.Prompt,
			"max_output", budget.MaxOutput,
			"window", budget.Window)
	} else {
		log.Debug("dispatching", "prompt_tokens", budget.Prompt, "messages", len(p.Messages))
	}

	start := time.Now()
	req := d.transport.BuildRequest(p.Model.ID, p.Messages, p.Config)
	resp, err := d.transport.Open(reqCtx, creds, req)
	if err != nil {
		if reqCtx.Err() != nil {
			log.Info("request cancelled before response")
			return stream.Result{State: stream.StateCancelled}, nil
		}
		d.store.AppendMessage(panelID, model.NewAssistantMessage(stream.ErrorNotice(err)))
		log.Error("request failed", "error", err)
		return stream.Result{State: stream.StateErrored, Err: err}, nil
	}

	sink := &panelSink{store: d.store, panelID: panelID}
	res := d.assembler.Consume(reqCtx, resp, sink)

	attrs := []any{"state", res.State.String(), "chars", len(res.Content), "elapsed", time.Since(start)}
	switch res.State {
	case stream.StateErrored:
		log.Error("stream failed", append(attrs, "error", res.Err)...)
	default:
		log.Info("stream settled", attrs...)
	}
	return res, nil
}

// Stop cancels the panel's in-flight request. With no request in flight it
// clears the generating flag directly so a stuck panel can always recover.
// It returns true if a request was cancelled.
func (d *Dispatcher) Stop(panelID string) bool {
	if d.handles.cancel(panelID) {
		return true
	}
	d.store.SetGenerating(panelID, false)
	return false
}

// Active returns the ids of panels with an in-flight request.
func (d *Dispatcher) Active() []string {
	return d.handles.ids()
}

// Wait blocks until every Send has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Shutdown cancels every in-flight request and waits for them to settle
// or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if n := d.handles.cancelAll(); n > 0 {
		d.logger.Info("cancelling in-flight requests", "count", n)
	}
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// PANEL SINK
// =============================================================================

// panelSink writes stream effects into one panel.
type panelSink struct {
	store   *panel.Store
	panelID string
	msgID   string
}

func (s *panelSink) Begin() {
	msg := model.NewAssistantMessage("")
	s.msgID = msg.ID
	s.store.AppendMessage(s.panelID, msg)
}

func (s *panelSink) Publish(content string) {
	s.store.SetMessageContent(s.panelID, s.msgID, content)
}

func (s *panelSink) Fail(notice string) {
	s.store.AppendMessage(s.panelID, model.NewAssistantMessage(notice))
}
