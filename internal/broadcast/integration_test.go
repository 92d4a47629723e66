// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package broadcast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/imajinxai/llm-arena/internal/cloud"
	"github.com/imajinxai/llm-arena/internal/dispatch"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/panel"
)

// Each panel answers with its own model id.
func TestBroadcast_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		modelID := gjson.GetBytes(body, "model").String()
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\ndata: [DONE]\n\n", "from "+modelID)
	}))
	defer server.Close()

	store := panel.NewStore()
	a := store.Snapshot()[0].ID
	b := store.Create().ID
	store.SetModel(a, model.ModelRef{ID: "alpha"})
	store.SetModel(b, model.ModelRef{ID: "beta"})

	d := dispatch.New(store, cloud.NewClient(), cloud.StaticCredentials{BaseURL: server.URL, APIKey: "k"})
	c := New(store, d, nil)

	ids, _ := c.SendToAll(context.Background(), "same prompt")
	require.Len(t, ids, 2)
	c.Wait()

	for id, want := range map[string]string{a: "from alpha", b: "from beta"} {
		p, ok := store.Get(id)
		require.True(t, ok)
		require.Len(t, p.Messages, 2)
		assert.Equal(t, "same prompt", p.Messages[0].Content)
		assert.Equal(t, want, p.Messages[1].Content)
		assert.False(t, p.Generating)
	}
}
