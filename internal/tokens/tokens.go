// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates prompt sizes with the cl100k_base encoding.
//
// Counts are approximate: the upstream model may use a different
// tokenizer. They are used for logging and budget warnings, never to
// block a request.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/imajinxai/llm-arena/internal/model"
)

// Chat framing overhead, as documented for OpenAI chat models.
const (
	perMessageOverhead = 4
	replyPriming       = 3
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the shared cl100k_base codec.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Count returns the token count of text.
// Falls back to four characters per token when the codec is unavailable.
func Count(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return roughCount(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return roughCount(text)
	}
	return len(ids)
}

func roughCount(text string) int {
	return (len([]rune(text)) + 3) / 4
}

// CountMessages estimates the prompt tokens of a chat history.
func CountMessages(history []model.Message) int {
	if len(history) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range history {
		total += perMessageOverhead + Count(m.Role.String()) + Count(m.Content)
	}
	return total
}

// Budget compares a request against the model's context window.
type Budget struct {
	Prompt    int
	MaxOutput int
	Window    int
}

// Check builds the budget for history sent with cfg to a model with the
// given context window (0 when unknown).
func Check(history []model.Message, cfg model.GenerationConfig, window int) Budget {
	return Budget{
		Prompt:    CountMessages(history),
		MaxOutput: cfg.MaxOutputTokens,
		Window:    window,
	}
}

// Total returns prompt plus reserved output tokens.
func (b Budget) Total() int {
	return b.Prompt + b.MaxOutput
}

// Over reports whether the request may not fit the window.
// Always false when the window is unknown.
func (b Budget) Over() bool {
	return b.Window > 0 && b.Total() > b.Window
}

// Remaining returns the tokens left in the window after the prompt.
func (b Budget) Remaining() int {
	if b.Window <= 0 {
		return 0
	}
	if r := b.Window - b.Prompt; r > 0 {
		return r
	}
	return 0
}
