// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// ABORT HANDLES (THREAD-SAFE)
// =============================================================================

// handle is the cancel function of one in-flight request. The token tells
// a request whether it is still the current one for its panel.
type handle struct {
	cancel context.CancelFunc
	token  uint64
}

// handleRegistry keeps at most one live handle per panel id.
type handleRegistry struct {
	mu      sync.Mutex
	next    uint64
	handles map[string]handle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[string]handle)}
}

// register stores cancel for id, cancelling any previous handle.
func (r *handleRegistry) register(id string, cancel context.CancelFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[id]; ok {
		prev.cancel()
	}
	r.next++
	r.handles[id] = handle{cancel: cancel, token: r.next}
	return r.next
}

// release removes the handle if token still owns it. It returns true when
// the caller was the current request for id.
func (r *handleRegistry) release(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok || h.token != token {
		return false
	}
	delete(r.handles, id)
	return true
}

// cancel aborts the live request for id. The entry stays until its owner
// releases it.
func (r *handleRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if ok {
		h.cancel()
	}
	return ok
}

// cancelAll aborts every live request and returns how many there were.
func (r *handleRegistry) cancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handles {
		h.cancel()
	}
	return len(r.handles)
}

// ids returns the panel ids with a live handle, sorted.
func (r *handleRegistry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.handles))
	for id := range r.handles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
