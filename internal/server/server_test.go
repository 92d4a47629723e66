// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imajinxai/llm-arena/internal/catalog"
	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

// echoSender answers every prompt with "echo: <prompt>" straight into the store.
type echoSender struct {
	store *panel.Store

	mu      sync.Mutex
	sent    []string
	stopped []string
}

func (e *echoSender) Send(ctx context.Context, panelID, content string) (stream.Result, error) {
	e.mu.Lock()
	e.sent = append(e.sent, panelID)
	e.mu.Unlock()

	if _, ok := e.store.StartTurn(panelID, content); !ok {
		return stream.Result{}, fmt.Errorf("panel %s not ready", panelID)
	}
	answer := "echo: " + content
	e.store.AppendMessage(panelID, model.NewAssistantMessage(answer))
	e.store.SetGenerating(panelID, false)
	return stream.Result{State: stream.StateCompleted, Content: answer}, nil
}

func (e *echoSender) Start(ctx context.Context, panelID, content string) (<-chan stream.Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, dispatch.ErrEmptyPrompt
	}
	if _, ok := e.store.ClaimTurn(panelID, content); !ok {
		return nil, dispatch.ErrBusy
	}
	e.mu.Lock()
	e.sent = append(e.sent, panelID)
	e.mu.Unlock()

	done := make(chan stream.Result, 1)
	go func() {
		answer := "echo: " + content
		e.store.AppendMessage(panelID, model.NewAssistantMessage(answer))
		e.store.SetGenerating(panelID, false)
		done <- stream.Result{State: stream.StateCompleted, Content: answer}
	}()
	return done, nil
}

func (e *echoSender) Stop(panelID string) bool {
	e.mu.Lock()
	e.stopped = append(e.stopped, panelID)
	e.mu.Unlock()
	return e.store.SetGenerating(panelID, false)
}

func (e *echoSender) sends() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type fakeModels struct {
	models    []model.ModelRef
	err       error
	refreshes int
}

func (f *fakeModels) Models(context.Context) ([]model.ModelRef, error) { return f.models, f.err }

func (f *fakeModels) Refresh(ctx context.Context) ([]model.ModelRef, error) {
	f.refreshes++
	return f.Models(ctx)
}

func (f *fakeModels) Find(_ context.Context, idOrName string) (model.ModelRef, error) {
	if f.err != nil {
		return model.ModelRef{}, f.err
	}
	if m, ok := model.FindModel(f.models, idOrName); ok {
		return m, nil
	}
	return model.ModelRef{}, fmt.Errorf("%w: %q", catalog.ErrModelNotFound, idOrName)
}

var testModels = []model.ModelRef{
	{ID: "llama-3.3-70b", Name: "Llama 3.3 70B", Provider: "Meta"},
	{ID: "qwen-3-32b", Name: "Qwen 3 32B", Provider: "Alibaba"},
}

type harness struct {
	srv     *Server
	store   *panel.Store
	sender  *echoSender
	models  *fakeModels
	handler http.Handler
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store := panel.NewStore()
	sender := &echoSender{store: store}
	models := &fakeModels{models: testModels}
	srv := New(store, sender, models, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &harness{srv: srv, store: store, sender: sender, models: models, handler: srv.Handler()}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) firstID() string {
	return h.store.Snapshot()[0].ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// HEALTH AND WORKSPACE
// =============================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, 1, health.Panels)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListPanels(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/api/panels", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ws := decode[WorkspaceResponse](t, rec)
	require.Len(t, ws.Panels, 1)
	assert.False(t, ws.CanRemove)
	assert.Equal(t, 0, ws.Eligible)
	assert.False(t, ws.SyncMode)
}

func TestCreateAndRemovePanel(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.do(t, http.MethodPost, "/api/panels", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Panel](t, rec)
	assert.Equal(t, 2, h.store.Len())
	assert.Nil(t, created.Model)

	rec = h.do(t, http.MethodDelete, "/api/panels/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.store.Len())

	rec = h.do(t, http.MethodDelete, "/api/panels/"+h.firstID(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "the last panel stays")

	rec = h.do(t, http.MethodDelete, "/api/panels/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "not_found_error", body.Error.Type)
}

func TestRemovePanel_StopsGenerating(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()
	h.store.Create()
	h.store.SetGenerating(id, true)

	rec := h.do(t, http.MethodDelete, "/api/panels/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{id}, h.sender.stopped)
}

// =============================================================================
// PANEL SETTINGS
// =============================================================================

func TestSetModel(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()

	rec := h.do(t, http.MethodPut, "/api/panels/"+id+"/model", map[string]string{"model_id": "Qwen 3 32B"})
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[model.Panel](t, rec)
	require.NotNil(t, p.Model)
	assert.Equal(t, "qwen-3-32b", p.Model.ID)

	rec = h.do(t, http.MethodPut, "/api/panels/"+id+"/model", map[string]string{"model_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/panels/"+id+"/model", map[string]string{"model_id": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.models.err = fmt.Errorf("upstream down")
	rec = h.do(t, http.MethodPut, "/api/panels/"+id+"/model", map[string]string{"model_id": "qwen-3-32b"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSetConfig(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()

	rec := h.do(t, http.MethodPut, "/api/panels/"+id+"/config", map[string]any{"temperature": 0.1})
	require.Equal(t, http.StatusOK, rec.Code)
	p, _ := h.store.Get(id)
	assert.Equal(t, 0.1, p.Config.Temperature)
	assert.Equal(t, model.DefaultGenerationConfig().MaxOutputTokens, p.Config.MaxOutputTokens, "unset fields are kept")

	rec = h.do(t, http.MethodPut, "/api/panels/"+id+"/config", map[string]any{"temperature": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p, _ = h.store.Get(id)
	assert.Equal(t, 0.1, p.Config.Temperature, "invalid config is not applied")

	rec = h.do(t, http.MethodPut, "/api/panels/"+id+"/config", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetInputAndClear(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()
	h.store.AppendMessage(id, model.NewUserMessage("old"))

	rec := h.do(t, http.MethodPut, "/api/panels/"+id+"/input", map[string]string{"input": "draft"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "draft", decode[model.Panel](t, rec).Input)

	rec = h.do(t, http.MethodPost, "/api/panels/"+id+"/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[model.Panel](t, rec).Messages)

	h.store.SetGenerating(id, true)
	rec = h.do(t, http.MethodPost, "/api/panels/"+id+"/clear", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMove(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.firstID()
	second := h.store.Create().ID

	rec := h.do(t, http.MethodPost, "/api/panels/"+first+"/move", map[string]string{"direction": "left"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/panels/"+first+"/move", map[string]string{"direction": "up"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/panels/"+first+"/move", map[string]string{"direction": "Right"})
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode[WorkspaceResponse](t, rec)
	assert.Equal(t, second, ws.Panels[0].ID)
	assert.Equal(t, first, ws.Panels[1].ID)
}

// =============================================================================
// SENDING
// =============================================================================

func TestSend(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()

	rec := h.do(t, http.MethodPost, "/api/panels/"+id+"/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code, "no model selected")

	h.store.SetModel(id, testModels[0])

	rec = h.do(t, http.MethodPost, "/api/panels/"+id+"/messages", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, h.sender.sends())

	rec = h.do(t, http.MethodPost, "/api/panels/"+id+"/messages", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		p, _ := h.store.Get(id)
		return len(p.Messages) == 2 && !p.Generating
	}, 2*time.Second, 5*time.Millisecond)
	p, _ := h.store.Get(id)
	assert.Equal(t, "echo: hi", p.Messages[1].Content)
}

func TestSend_RejectsWhileGenerating(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()
	h.store.SetModel(id, testModels[0])
	h.store.SetGenerating(id, true)

	rec := h.do(t, http.MethodPost, "/api/panels/"+id+"/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSend_DoubleSubmitKeepsFirstAnswer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	store := panel.NewStore()
	id := store.Snapshot()[0].ID
	store.SetModel(id, testModels[0])
	d := dispatch.New(store, cloud.NewClient(), cloud.StaticCredentials{BaseURL: upstream.URL, APIKey: "sk-test"})
	srv := New(store, d, &fakeModels{models: testModels}, Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	handler := srv.Handler()

	post := func() int {
		body := strings.NewReader(`{"content":"a"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/panels/"+id+"/messages", body)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusConflict, post())

	require.Eventually(t, func() bool {
		p, _ := store.Get(id)
		return !p.Generating && len(p.Messages) == 2
	}, 3*time.Second, 10*time.Millisecond)
	p, _ := store.Get(id)
	assert.Equal(t, model.RoleUser, p.Messages[0].Role)
	assert.Equal(t, "a", p.Messages[0].Content)
	assert.Equal(t, "hi", p.Messages[1].Content)
}

func TestSend_RejectsOversizedPrompt(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()
	h.store.SetModel(id, testModels[0])

	rec := h.do(t, http.MethodPost, "/api/panels/"+id+"/messages",
		map[string]string{"content": strings.Repeat("x", MaxPromptLength+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStop(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()
	h.store.SetGenerating(id, true)

	rec := h.do(t, http.MethodPost, "/api/panels/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["stopped"])
	assert.Empty(t, h.store.Generating())
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.firstID()
	b := h.store.Create().ID
	h.store.Create() // no model, not targeted
	h.store.SetModel(a, testModels[0])
	h.store.SetModel(b, testModels[1])

	rec := h.do(t, http.MethodPost, "/api/broadcast", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/broadcast", map[string]string{"content": "compare"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[BroadcastResponse](t, rec)
	assert.ElementsMatch(t, []string{a, b}, resp.Panels)

	require.Eventually(t, func() bool { return h.sender.sends() == 2 }, 2*time.Second, 5*time.Millisecond)

	rec = h.do(t, http.MethodPost, "/api/broadcast/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBroadcast_NoEligiblePanels(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodPost, "/api/broadcast", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[BroadcastResponse](t, rec).Panels)
	assert.Equal(t, 0, h.sender.sends())
}

func TestSync(t *testing.T) {
	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodPut, "/api/sync", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[WorkspaceResponse](t, rec).SyncMode)
	assert.True(t, h.store.SyncMode())
}

// =============================================================================
// EXPORT AND MODELS
// =============================================================================

func TestExport(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.firstID()

	rec := h.do(t, http.MethodGet, "/api/panels/"+id+"/export", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "empty conversation")

	h.store.SetModel(id, testModels[0])
	h.store.AppendMessage(id, model.NewUserMessage("question"))
	h.store.AppendMessage(id, model.NewAssistantMessage("answer"))

	rec = h.do(t, http.MethodGet, "/api/panels/"+id+"/export?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "markdown")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "arena_Llama_3.3_70B_")
	assert.Contains(t, rec.Body.String(), "answer")

	rec = h.do(t, http.MethodGet, "/api/panels/"+id+"/export?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = h.do(t, http.MethodGet, "/api/panels/"+id+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModels(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ModelsResponse](t, rec).Models, 2)
	assert.Equal(t, 0, h.models.refreshes)

	rec = h.do(t, http.MethodGet, "/api/models?refresh=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.models.refreshes)

	h.models.models = nil
	rec = h.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":[]}`, rec.Body.String())

	h.models.err = fmt.Errorf("boom")
	rec = h.do(t, http.MethodGet, "/api/models", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func TestWebSocket_PushesSnapshots(t *testing.T) {
	h := newHarness(t, Options{})
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first SnapshotMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Len(t, first.Panels, 1)
	assert.Empty(t, first.Changes)

	created := h.store.Create()

	var next SnapshotMessage
	require.NoError(t, conn.ReadJSON(&next))
	require.Len(t, next.Panels, 2)
	assert.Equal(t, created.ID, next.Panels[1].ID)
	require.NotEmpty(t, next.Changes)
	assert.Equal(t, panel.KindCreated, next.Changes[0].Kind)
	assert.True(t, next.CanRemove)

	require.Eventually(t, func() bool { return h.srv.clients.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, Options{AllowedOrigins: []string{"http://app.example.com"}})
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	header := http.Header{"Origin": []string{"http://evil.example.net"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
