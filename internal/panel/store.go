// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package panel owns the ordered set of chat panels.
//
// Every mutation builds a new panel slice and publishes it atomically, so
// readers get a consistent snapshot without locking and never observe a
// half-applied update. Writers are serialised by a mutex.
package panel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/imajinxai/llm-arena/internal/model"
)

// ErrEmptyWorkspace is returned when restoring zero panels.
var ErrEmptyWorkspace = errors.New("workspace must contain at least one panel")

// Direction is a move direction within the panel order.
type Direction int

const (
	Left Direction = iota
	Right
)

// String returns "left" or "right".
func (d Direction) String() string {
	if d == Left {
		return "left"
	}
	return "right"
}

// ParseDirection converts "left"/"right".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "left":
		return Left, true
	case "right":
		return Right, true
	default:
		return Left, false
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store is the single owner of panel state.
type Store struct {
	mu       sync.Mutex
	panels   atomic.Pointer[[]model.Panel]
	syncMode atomic.Bool
	bus      *Bus
}

// NewStore creates a store holding one empty panel.
func NewStore() *Store {
	s := &Store{bus: NewBus()}
	initial := []model.Panel{model.NewPanel()}
	s.panels.Store(&initial)
	return s
}

// Snapshot returns the current panel set in display order.
// The returned slice and everything it references must be treated as read-only.
func (s *Store) Snapshot() []model.Panel {
	return *s.panels.Load()
}

// Len returns the number of panels.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// Get returns the panel with the given id.
func (s *Store) Get(id string) (model.Panel, bool) {
	panels := s.Snapshot()
	if i := model.IndexOf(panels, id); i >= 0 {
		return panels[i], true
	}
	return model.Panel{}, false
}

// Subscribe returns a channel of change notifications.
func (s *Store) Subscribe(bufSize int) <-chan Change {
	return s.bus.Subscribe(bufSize)
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.bus.Unsubscribe(ch)
}

// publishLocked swaps in next and notifies subscribers. Caller holds mu.
func (s *Store) publishLocked(next []model.Panel, c Change) {
	s.panels.Store(&next)
	s.bus.Publish(c)
}

// =============================================================================
// PANEL LIFECYCLE
// =============================================================================

// Create appends a new panel with no model, default config and empty history.
func (s *Store) Create() model.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := model.NewPanel()
	cur := s.Snapshot()
	next := make([]model.Panel, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, p)
	s.publishLocked(next, Change{Kind: KindCreated, PanelID: p.ID})
	return p
}

// Remove deletes a panel. It is a no-op when id is unknown or when the
// panel is the only one left.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	if len(cur) <= 1 {
		return false
	}
	i := model.IndexOf(cur, id)
	if i < 0 {
		return false
	}
	next := make([]model.Panel, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	s.publishLocked(next, Change{Kind: KindRemoved, PanelID: id})
	return true
}

// CanRemove reports whether Remove would succeed for an existing panel.
func (s *Store) CanRemove() bool {
	return s.Len() > 1
}

// Move shifts a panel one position. No-op at the boundaries.
func (s *Store) Move(id string, dir Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	i := model.IndexOf(cur, id)
	if i < 0 {
		return false
	}
	j := i - 1
	if dir == Right {
		j = i + 1
	}
	if j < 0 || j >= len(cur) {
		return false
	}
	next := make([]model.Panel, len(cur))
	copy(next, cur)
	next[i], next[j] = next[j], next[i]
	s.publishLocked(next, Change{Kind: KindMoved, PanelID: id})
	return true
}

// CanMove reports whether Move would change the order.
func (s *Store) CanMove(id string, dir Direction) bool {
	panels := s.Snapshot()
	i := model.IndexOf(panels, id)
	if i < 0 {
		return false
	}
	if dir == Left {
		return i > 0
	}
	return i < len(panels)-1
}

// Restore replaces the whole panel set. Generating flags are cleared since
// no request survives a restore.
func (s *Store) Restore(panels []model.Panel) error {
	if len(panels) == 0 {
		return ErrEmptyWorkspace
	}
	next := make([]model.Panel, len(panels))
	for i, p := range panels {
		p = p.Clone()
		p.Generating = false
		if p.Messages == nil {
			p.Messages = []model.Message{}
		}
		next[i] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(next, Change{Kind: KindRestored})
	return nil
}

// =============================================================================
// PATCH PRIMITIVE
// =============================================================================

// Patch applies fn to a copy of the panel and publishes the result.
// fn may freely modify the copy. Returns false if the panel is missing.
func (s *Store) Patch(id string, kind ChangeKind, fn func(p *model.Panel)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.patchLocked(id, kind, fn)
	return ok
}

func (s *Store) patchLocked(id string, kind ChangeKind, fn func(p *model.Panel)) (model.Panel, bool) {
	cur := s.Snapshot()
	i := model.IndexOf(cur, id)
	if i < 0 {
		return model.Panel{}, false
	}
	p := cur[i].Clone()
	fn(&p)
	p.ID = id

	next := make([]model.Panel, len(cur))
	copy(next, cur)
	next[i] = p
	s.publishLocked(next, Change{Kind: kind, PanelID: id})
	return p, true
}

// SetModel selects the model for a panel.
func (s *Store) SetModel(id string, m model.ModelRef) bool {
	return s.Patch(id, KindUpdated, func(p *model.Panel) { p.Model = &m })
}

// SetConfig replaces the generation config of a panel.
func (s *Store) SetConfig(id string, cfg model.GenerationConfig) bool {
	cfg = cfg.Clone()
	return s.Patch(id, KindUpdated, func(p *model.Panel) { p.Config = cfg })
}

// SetInput stores the pending composer text.
func (s *Store) SetInput(id, input string) bool {
	return s.Patch(id, KindUpdated, func(p *model.Panel) { p.Input = input })
}

// ClearMessages empties the history of a panel.
func (s *Store) ClearMessages(id string) bool {
	return s.Patch(id, KindMessages, func(p *model.Panel) { p.Messages = []model.Message{} })
}

// =============================================================================
// MESSAGE PRIMITIVES
// =============================================================================

// StartTurn appends a user message, clears the input and marks the panel
// generating in one step. It returns the updated panel, or false when the
// panel is missing or has no model.
func (s *Store) StartTurn(id, content string) (model.Panel, bool) {
	return s.startTurn(id, content, false)
}

// ClaimTurn is StartTurn for callers that must not interrupt a running
// answer: it also returns false when the panel is already generating. The
// check and the claim happen under one lock.
func (s *Store) ClaimTurn(id, content string) (model.Panel, bool) {
	return s.startTurn(id, content, true)
}

func (s *Store) startTurn(id, content string, idleOnly bool) (model.Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.Get(id)
	if !ok || !cur.HasModel() || (idleOnly && cur.Generating) {
		return model.Panel{}, false
	}
	return s.patchLocked(id, KindMessages, func(p *model.Panel) {
		p.Messages = append(p.Messages, model.NewUserMessage(content))
		p.Input = ""
		p.Generating = true
	})
}

// AppendMessage adds msg to the end of the history.
func (s *Store) AppendMessage(id string, msg model.Message) bool {
	return s.Patch(id, KindMessages, func(p *model.Panel) {
		p.Messages = append(p.Messages, msg)
	})
}

// SetMessageContent overwrites the content of one message.
func (s *Store) SetMessageContent(id, msgID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.Get(id)
	if !ok {
		return false
	}
	idx := -1
	for i := range cur.Messages {
		if cur.Messages[i].ID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	_, ok = s.patchLocked(id, KindMessages, func(p *model.Panel) {
		p.Messages[idx].Content = content
	})
	return ok
}

// SetGenerating sets the generating flag.
func (s *Store) SetGenerating(id string, generating bool) bool {
	return s.Patch(id, KindGenerating, func(p *model.Panel) { p.Generating = generating })
}

// Generating returns the ids of panels that are generating.
func (s *Store) Generating() []string {
	var ids []string
	for _, p := range s.Snapshot() {
		if p.Generating {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// =============================================================================
// SYNC MODE
// =============================================================================

// SyncMode reports whether input is broadcast to every panel.
func (s *Store) SyncMode() bool {
	return s.syncMode.Load()
}

// SetSyncMode turns broadcast input on or off.
func (s *Store) SetSyncMode(on bool) {
	if s.syncMode.Swap(on) != on {
		s.bus.Publish(Change{Kind: KindSyncMode})
	}
}

// Eligible returns the panels that have a model selected.
func (s *Store) Eligible() []model.Panel {
	var out []model.Panel
	for _, p := range s.Snapshot() {
		if p.HasModel() {
			out = append(out, p)
		}
	}
	return out
}
