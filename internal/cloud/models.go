// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ModelEntry is one entry from GET /models before any display mapping.
// Pricing stays as text because endpoints disagree on number vs string.
type ModelEntry struct {
	ID            string
	OwnedBy       string
	Name          string
	Description   string
	ContextWindow int
	InputPrice    string
	OutputPrice   string
}

// ListModels retrieves the models offered by the endpoint.
//
// SECURITY: Response size limit prevents memory exhaustion.
func (c *Client) ListModels(ctx context.Context, creds Credentials) ([]ModelEntry, error) {
	if !creds.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.Endpoint("/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, creds)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ReadError(resp)
	}

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse models response: invalid JSON")
	}

	data := gjson.GetBytes(body, "data")
	entries := make([]ModelEntry, 0, len(data.Array()))
	data.ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		ctxWin := m.Get("context_window")
		if !ctxWin.Exists() {
			ctxWin = m.Get("context_length")
		}
		entries = append(entries, ModelEntry{
			ID:            id,
			OwnedBy:       m.Get("owned_by").String(),
			Name:          m.Get("name").String(),
			Description:   m.Get("description").String(),
			ContextWindow: int(ctxWin.Int()),
			InputPrice:    m.Get("pricing.input").String(),
			OutputPrice:   m.Get("pricing.output").String(),
		})
		return true
	})

	c.logger.Debug("listed models", "count", len(entries), "key", creds.Fingerprint(), "elapsed", time.Since(start))
	return entries, nil
}
