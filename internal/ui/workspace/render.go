// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/imajinxai/llm-arena/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownCache renders settled answers with glamour. Renderers are built
// per wrap width and results are keyed by message id, width and length, so
// a redraw of unchanged history costs map lookups only.
type markdownCache struct {
	mu        sync.Mutex
	style     string
	renderers map[int]*glamour.TermRenderer
	rendered  map[cacheKey]string
}

type cacheKey struct {
	msgID string
	width int
	size  int
}

// maxCachedRenders bounds the cache; it is simply reset when full.
const maxCachedRenders = 512

func newMarkdownCache(dark bool) *markdownCache {
	style := "light"
	if dark {
		style = "dark"
	}
	return &markdownCache{
		style:     style,
		renderers: make(map[int]*glamour.TermRenderer),
		rendered:  make(map[cacheKey]string),
	}
}

// Render returns content as styled terminal text wrapped to width. It falls
// back to plain wrapping if glamour cannot render.
func (c *markdownCache) Render(msgID, content string, width int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{msgID: msgID, width: width, size: len(content)}
	if out, ok := c.rendered[key]; ok {
		return out
	}

	r, ok := c.renderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(c.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return util.WrapWidth(content, width)
		}
		c.renderers[width] = r
	}

	out, err := r.Render(content)
	if err != nil {
		return util.WrapWidth(content, width)
	}
	out = strings.Trim(out, "\n")

	if len(c.rendered) >= maxCachedRenders {
		c.rendered = make(map[cacheKey]string)
	}
	c.rendered[key] = out
	return out
}
