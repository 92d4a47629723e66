// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imajinxai/llm-arena/internal/broadcast"
	"github.com/imajinxai/llm-arena/internal/config"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize caps JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// MaxPromptLength caps a single prompt in runes.
	MaxPromptLength = 100000

)

// Version is reported by /health.
var Version = "0.1.0"

// ============================================================================
// DEPENDENCIES
// ============================================================================

// ModelSource lists and resolves models. *catalog.Catalog implements it.
type ModelSource interface {
	Models(ctx context.Context) ([]model.ModelRef, error)
	Refresh(ctx context.Context) ([]model.ModelRef, error)
	Find(ctx context.Context, idOrName string) (model.ModelRef, error)
}

// Sender runs per-panel requests. *dispatch.Dispatcher implements it.
type Sender interface {
	broadcast.Sender

	// Start claims an idle panel and streams in the background. It fails
	// with dispatch.ErrBusy when the panel is already generating.
	Start(ctx context.Context, panelID, content string) (<-chan stream.Result, error)
}

// Options configures the server.
type Options struct {
	// Addr is the listen address, host:port.
	Addr string

	AllowedOrigins  []string
	RateLimitPerSec float64
	RateBurst       int

	// AuthToken, when set, is required as a Bearer token.
	AuthToken string

	Logger *slog.Logger
}

// OptionsFromConfig derives server options from the application config.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Addr:            cfg.ListenAddr(),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateBurst:       cfg.Server.RateBurst,
		AuthToken:       cfg.Server.AuthToken,
		Logger:          logger,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the panel workspace over HTTP and WebSocket.
type Server struct {
	opts   Options
	logger *slog.Logger

	store  *panel.Store
	sender Sender
	coord  *broadcast.Coordinator
	models ModelSource

	router  *http.ServeMux
	limiter *RateLimiter
	server  *http.Server

	// baseCtx outlives individual HTTP requests; sends started by a request
	// keep running after the 202 is written.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	clients atomic.Int64
	started time.Time
}

// New creates a server for store. sender performs per-panel sends and stops.
func New(store *panel.Store, sender Sender, models ModelSource, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		logger:  logger,
		store:   store,
		sender:  sender,
		coord:   broadcast.New(store, sender, logger),
		models:  models,
		router:  http.NewServeMux(),
		baseCtx: ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	if opts.RateLimitPerSec > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitPerSec, opts.RateBurst)
	}
	s.setupRoutes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("GET /api/panels", s.handleListPanels)
	s.router.HandleFunc("POST /api/panels", s.handleCreatePanel)
	s.router.HandleFunc("DELETE /api/panels/{id}", s.handleRemovePanel)
	s.router.HandleFunc("PUT /api/panels/{id}/model", s.handleSetModel)
	s.router.HandleFunc("PUT /api/panels/{id}/config", s.handleSetConfig)
	s.router.HandleFunc("PUT /api/panels/{id}/input", s.handleSetInput)
	s.router.HandleFunc("POST /api/panels/{id}/clear", s.handleClear)
	s.router.HandleFunc("POST /api/panels/{id}/move", s.handleMove)
	s.router.HandleFunc("POST /api/panels/{id}/messages", s.handleSend)
	s.router.HandleFunc("POST /api/panels/{id}/stop", s.handleStop)
	s.router.HandleFunc("GET /api/panels/{id}/export", s.handleExport)

	s.router.HandleFunc("POST /api/broadcast", s.handleBroadcast)
	s.router.HandleFunc("POST /api/broadcast/stop", s.handleBroadcastStop)
	s.router.HandleFunc("PUT /api/sync", s.handleSync)

	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(s.opts.AllowedOrigins)),
		RateLimitMiddleware(s.limiter, s.logger),
		AuthMiddleware(s.opts.AuthToken, s.logger),
	)(s.router)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves on opts.Addr until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}

	s.logger.Info("server listening", "addr", ln.Addr().String(), "version", Version)
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, cancels streaming sends started through
// the API and waits for them to settle or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	s.cancel()
	if s.limiter != nil {
		s.limiter.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	kind := "invalid_request_error"
	switch {
	case status == http.StatusNotFound:
		kind = "not_found_error"
	case status == http.StatusConflict:
		kind = "conflict_error"
	case status == http.StatusUnauthorized:
		kind = "authentication_error"
	case status == http.StatusTooManyRequests:
		kind = "rate_limit_error"
	case status >= http.StatusInternalServerError:
		kind = "server_error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: kind, Code: status}})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// startSend claims the panel and starts its request on the server context.
// The claim is complete when it returns, so a second call for the same
// panel fails with dispatch.ErrBusy instead of cancelling the first.
func (s *Server) startSend(panelID, content string) error {
	done, err := s.sender.Start(s.baseCtx, panelID, content)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := <-done
		if res.Err != nil && !res.State.Settled() {
			s.logger.Warn("send not started", "panel", panelID, "error", res.Err)
			return
		}
		s.logger.Debug("send settled", "panel", panelID, "state", res.State.String())
	}()
	return nil
}
