// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package broadcast

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// fakeSender records calls and blocks each send until released.
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	stopped []string
	release chan struct{}
	started chan string
}

func newFakeSender() *fakeSender {
	return &fakeSender{release: make(chan struct{}), started: make(chan string, 16)}
}

func (f *fakeSender) Send(ctx context.Context, panelID, content string) (stream.Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, panelID+":"+content)
	f.mu.Unlock()
	f.started <- panelID
	<-f.release
	return stream.Result{State: stream.StateCompleted, Content: "ok"}, nil
}

func (f *fakeSender) Stop(panelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, panelID)
	return true
}

func (f *fakeSender) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

func TestSendToAll_OnlyPanelsWithModel(t *testing.T) {
	store := panel.NewStore()
	a := store.Snapshot()[0].ID
	b := store.Create().ID
	store.Create() // no model
	store.SetModel(a, model.ModelRef{ID: "m1"})
	store.SetModel(b, model.ModelRef{ID: "m2"})

	sender := newFakeSender()
	c := New(store, sender, nil)

	ids, outcomes := c.SendToAll(context.Background(), "Hi")
	assert.ElementsMatch(t, []string{a, b}, ids)

	// Both sends run concurrently: both start before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-sender.started:
		case <-time.After(2 * time.Second):
			t.Fatal("sends did not start concurrently")
		}
	}
	close(sender.release)
	c.Wait()

	want := []string{a + ":Hi", b + ":Hi"}
	sort.Strings(want)
	assert.Equal(t, want, sender.calls())

	var got []Outcome
	for o := range outcomes {
		got = append(got, o)
	}
	require.Len(t, got, 2)
	for _, o := range got {
		assert.Equal(t, stream.StateCompleted, o.Result.State)
		assert.NoError(t, o.Err)
	}
}

func TestSendToAll_NoEligiblePanels(t *testing.T) {
	store := panel.NewStore()
	sender := newFakeSender()
	c := New(store, sender, nil)

	ids, outcomes := c.SendToAll(context.Background(), "Hi")
	assert.Empty(t, ids)
	_, open := <-outcomes
	assert.False(t, open)
	c.Wait()
	assert.Empty(t, sender.calls())
}

func TestStopAll(t *testing.T) {
	store := panel.NewStore()
	a := store.Snapshot()[0].ID
	b := store.Create().ID
	store.SetGenerating(b, true)

	sender := newFakeSender()
	c := New(store, sender, nil)

	assert.Equal(t, []string{b}, c.StopAll())
	assert.Equal(t, []string{b}, sender.stopped)
	assert.NotContains(t, sender.stopped, a)
}
