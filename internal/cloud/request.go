// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"github.com/tidwall/gjson"

	"github.com/imajinxai/llm-arena/internal/model"
)

// ChatMessage is one entry of the request history. Only role and content
// are sent; ids and timestamps stay local.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	TopK             *int          `json:"top_k,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	Stream           bool          `json:"stream"`
}

// BuildRequest assembles the request body for a panel's history.
// Optional sampling parameters are only included when extended sampling
// is enabled on the client.
func (c *Client) BuildRequest(modelID string, history []model.Message, cfg model.GenerationConfig) ChatRequest {
	msgs := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: m.Role.String(), Content: m.Content})
	}

	req := ChatRequest{
		Model:       modelID,
		Messages:    msgs,
		MaxTokens:   cfg.MaxOutputTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Stream:      true,
	}
	if c.extendedSampling {
		cfg = cfg.Clone()
		req.TopK = cfg.TopK
		req.PresencePenalty = cfg.PresencePenalty
		req.FrequencyPenalty = cfg.FrequencyPenalty
	}
	return req
}

// errorFromBody extracts error.message and error.code from a JSON body.
// Either value is empty when the body does not carry it.
func errorFromBody(body []byte) (message, code string) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", ""
	}
	res := gjson.ParseBytes(body)
	message = res.Get("error.message").String()
	if message == "" {
		// Some gateways return {"message": "..."} or {"error": "..."}.
		if e := res.Get("error"); e.Type == gjson.String {
			message = e.String()
		} else {
			message = res.Get("message").String()
		}
	}
	return message, res.Get("error.code").String()
}
