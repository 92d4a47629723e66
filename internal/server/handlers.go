// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/imajinxai/llm-arena/internal/catalog"
	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/export"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
)

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// WorkspaceResponse is the full panel set as the browser renders it.
type WorkspaceResponse struct {
	Panels    []model.Panel `json:"panels"`
	SyncMode  bool          `json:"sync_mode"`
	Eligible  int           `json:"eligible"`
	CanRemove bool          `json:"can_remove"`
}

func (s *Server) workspace() WorkspaceResponse {
	return WorkspaceResponse{
		Panels:    s.store.Snapshot(),
		SyncMode:  s.store.SyncMode(),
		Eligible:  len(s.store.Eligible()),
		CanRemove: s.store.CanRemove(),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Panels     int    `json:"panels"`
	Generating int    `json:"generating"`
	Clients    int64  `json:"ws_clients"`
	Uptime     int64  `json:"uptime_seconds"`
}

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    Version,
		Panels:     s.store.Len(),
		Generating: len(s.store.Generating()),
		Clients:    s.clients.Load(),
		Uptime:     int64(time.Since(s.started).Seconds()),
	})
}

// ============================================================================
// PANEL HANDLERS
// ============================================================================

// lookupPanel resolves the {id} path value or writes a 404.
func (s *Server) lookupPanel(w http.ResponseWriter, r *http.Request) (model.Panel, bool) {
	id := r.PathValue("id")
	p, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("panel %q not found", id))
	}
	return p, ok
}

func (s *Server) handleListPanels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workspace())
}

func (s *Server) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.store.Create())
}

func (s *Server) handleRemovePanel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	if !s.store.CanRemove() {
		writeError(w, http.StatusConflict, "the last panel cannot be removed")
		return
	}
	if p.Generating {
		s.sender.Stop(p.ID)
	}
	if !s.store.Remove(p.ID) {
		writeError(w, http.StatusConflict, "panel could not be removed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setModelRequest struct {
	ModelID string `json:"model_id"`
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	var req setModelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ModelID) == "" {
		writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	ref, err := s.models.Find(r.Context(), req.ModelID)
	switch {
	case errors.Is(err, catalog.ErrModelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.store.SetModel(p.ID, ref)
	s.writePanel(w, p.ID)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	// Absent fields keep their current values.
	cfg := p.Config.Clone()
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.SetConfig(p.ID, cfg)
	s.writePanel(w, p.ID)
}

type setInputRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleSetInput(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	var req setInputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.SetInput(p.ID, req.Input)
	s.writePanel(w, p.ID)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	if p.Generating {
		writeError(w, http.StatusConflict, "stop the response before clearing")
		return
	}
	s.store.ClearMessages(p.ID)
	s.writePanel(w, p.ID)
}

type moveRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, ok := panel.ParseDirection(strings.ToLower(req.Direction))
	if !ok {
		writeError(w, http.StatusBadRequest, `direction must be "left" or "right"`)
		return
	}
	if !s.store.Move(p.ID, dir) {
		writeError(w, http.StatusConflict, fmt.Sprintf("panel cannot move %s", dir))
		return
	}
	writeJSON(w, http.StatusOK, s.workspace())
}

type sendRequest struct {
	Content string `json:"content"`
}

// validatePrompt returns a client error message, or "".
func validatePrompt(content string) string {
	if strings.TrimSpace(content) == "" {
		return "content must not be empty"
	}
	if utf8.RuneCountInString(content) > MaxPromptLength {
		return fmt.Sprintf("content exceeds %d characters", MaxPromptLength)
	}
	return ""
}

// handleSend starts a request for one panel and returns immediately; the
// streamed answer arrives over the WebSocket.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validatePrompt(req.Content); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !p.HasModel() {
		writeError(w, http.StatusConflict, "select a model first")
		return
	}

	if err := s.startSend(p.ID, req.Content); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrBusy):
			writeError(w, http.StatusConflict, "panel is already generating")
		case errors.Is(err, dispatch.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, "content is required")
		default:
			writeError(w, http.StatusConflict, "select a model first")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"panel_id": p.ID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	stopped := s.sender.Stop(p.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPanel(w, r)
	if !ok {
		return
	}
	opts := export.DefaultOptions()
	exporter, err := export.ForFormat(r.URL.Query().Get("format"), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := exporter.Export(p)
	if errors.Is(err, export.ErrEmptyConversation) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(p, exporter, opts)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writePanel(w http.ResponseWriter, id string) {
	p, ok := s.store.Get(id)
	if !ok {
		// Removed concurrently.
		writeError(w, http.StatusNotFound, fmt.Sprintf("panel %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ============================================================================
// BROADCAST HANDLERS
// ============================================================================

// BroadcastResponse lists the panels a broadcast reached or stopped.
type BroadcastResponse struct {
	Panels []string `json:"panels"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validatePrompt(req.Content); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ids, outcomes := s.coord.SendToAll(s.baseCtx, req.Content)
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, BroadcastResponse{Panels: []string{}})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		failed := 0
		for o := range outcomes {
			if o.Err != nil || o.Result.Err != nil {
				failed++
			}
		}
		s.logger.Info("broadcast settled", "panels", len(ids), "failed", failed)
	}()
	writeJSON(w, http.StatusAccepted, BroadcastResponse{Panels: ids})
}

func (s *Server) handleBroadcastStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.coord.StopAll()
	if stopped == nil {
		stopped = []string{}
	}
	writeJSON(w, http.StatusOK, BroadcastResponse{Panels: stopped})
}

type syncRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.SetSyncMode(req.Enabled)
	writeJSON(w, http.StatusOK, s.workspace())
}

// ============================================================================
// MODELS
// ============================================================================

// ModelsResponse is the sorted model catalog.
type ModelsResponse struct {
	Models []model.ModelRef `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	fetch := s.models.Models
	if r.URL.Query().Get("refresh") != "" {
		fetch = s.models.Refresh
	}
	models, err := fetch(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if models == nil {
		models = []model.ModelRef{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: models})
}
