// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package broadcast fans one prompt out to every panel that has a model.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
	"github.com/imajinxai/llm-arena/internal/stream"
)

// Sender is the per-panel send operation. *dispatch.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, panelID, content string) (stream.Result, error)
	Stop(panelID string) bool
}

// Outcome is the result of one panel's send within a broadcast.
type Outcome struct {
	PanelID string
	Result  stream.Result
	Err     error
}

// Coordinator broadcasts prompts and stops.
type Coordinator struct {
	store  *panel.Store
	sender Sender
	logger *slog.Logger

	wg sync.WaitGroup
}

// New creates a coordinator.
func New(store *panel.Store, sender Sender, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, sender: sender, logger: logger}
}

// Targets returns the panels a broadcast would reach.
func (c *Coordinator) Targets() []model.Panel {
	return c.store.Eligible()
}

// SendToAll starts a send for every panel with a model and returns
// immediately with the ids it targeted. Nothing happens when no panel
// qualifies. Outcomes, if wanted, arrive on the returned channel, which is
// closed when every send has settled.
func (c *Coordinator) SendToAll(ctx context.Context, content string) ([]string, <-chan Outcome) {
	targets := c.Targets()
	out := make(chan Outcome, len(targets))
	if len(targets) == 0 {
		close(out)
		return nil, out
	}

	ids := make([]string, len(targets))
	var group sync.WaitGroup
	for i, p := range targets {
		ids[i] = p.ID
		group.Add(1)
		c.wg.Add(1)
		go func(id string) {
			defer c.wg.Done()
			defer group.Done()
			res, err := c.sender.Send(ctx, id, content)
			if err != nil && !errors.Is(err, cloud.ErrNotConfigured) {
				c.logger.Debug("broadcast send skipped", "panel", id, "error", err)
			}
			out <- Outcome{PanelID: id, Result: res, Err: err}
		}(p.ID)
	}
	go func() {
		group.Wait()
		close(out)
	}()

	c.logger.Info("broadcast started", "panels", len(ids))
	return ids, out
}

// StopAll stops every panel currently generating and returns their ids.
func (c *Coordinator) StopAll() []string {
	ids := c.store.Generating()
	for _, id := range ids {
		c.sender.Stop(id)
	}
	if len(ids) > 0 {
		c.logger.Info("broadcast stopped", "panels", len(ids))
	}
	return ids
}

// Wait blocks until every send started by SendToAll has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
