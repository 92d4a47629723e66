// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imajinxai/llm-arena/internal/model"
)

func TestCount(t *testing.T) {
	assert.Zero(t, Count(""))
	assert.Equal(t, 2, Count("Hello world"))

	long := strings.Repeat("token ", 200)
	n := Count(long)
	assert.Greater(t, n, 150)
	assert.Less(t, n, 250)
}

func TestCountMessages(t *testing.T) {
	assert.Zero(t, CountMessages(nil))

	history := []model.Message{model.NewUserMessage("Hello world")}
	// priming + overhead + role + content
	assert.Equal(t, 3+4+Count("user")+2, CountMessages(history))
}

func TestBudget(t *testing.T) {
	history := []model.Message{model.NewUserMessage(strings.Repeat("word ", 100))}
	cfg := model.DefaultGenerationConfig()

	b := Check(history, cfg, 8192)
	assert.Equal(t, 4096, b.MaxOutput)
	assert.False(t, b.Over())
	assert.Equal(t, 8192-b.Prompt, b.Remaining())

	b = Check(history, cfg, 4096)
	assert.True(t, b.Over())

	b = Check(history, cfg, 0)
	assert.False(t, b.Over(), "unknown window is never over")
	assert.Zero(t, b.Remaining())
}

func TestRoughCount(t *testing.T) {
	assert.Equal(t, 1, roughCount("abc"))
	assert.Equal(t, 2, roughCount("héllo"))
}
