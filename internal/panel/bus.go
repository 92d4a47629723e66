// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import "sync"

// ChangeKind describes what a store mutation touched.
type ChangeKind string

const (
	KindCreated    ChangeKind = "created"
	KindRemoved    ChangeKind = "removed"
	KindUpdated    ChangeKind = "updated"
	KindMoved      ChangeKind = "moved"
	KindMessages   ChangeKind = "messages"
	KindGenerating ChangeKind = "generating"
	KindRestored   ChangeKind = "restored"
	KindSyncMode   ChangeKind = "sync_mode"
)

// Change is one notification from the store. PanelID is empty for
// workspace-wide changes.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	PanelID string     `json:"panel_id,omitempty"`
}

// DefaultBufferSize is a reasonable subscription buffer for renderers.
const DefaultBufferSize = 64

// Bus is a non-blocking broadcast of store changes. Subscribers receive
// changes on buffered channels; slow subscribers miss changes rather than
// blocking writers. Consumers re-read the snapshot, so a dropped change
// only delays a redraw.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Change]struct{}
	recvToSend map[<-chan Change]chan Change
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Change]struct{}),
		recvToSend: make(map[<-chan Change]chan Change),
	}
}

// Publish sends c to every subscriber without blocking.
// Safe to call on a nil receiver.
func (b *Bus) Publish(c Change) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe returns a channel of changes. Call Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Change {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan Change, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
