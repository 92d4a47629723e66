// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// doneSentinel marks the end of an OpenAI-style stream.
const doneSentinel = "[DONE]"

// ErrMalformedFrame is returned for data lines whose payload is not valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the useful part of one "data:" line.
type Frame struct {
	// Content is the delta text of the first choice.
	Content string

	// FinishReason is set on the last frame of an answer.
	FinishReason string

	// Done is true for the "[DONE]" sentinel.
	Done bool

	// Error carries an error message sent inside the stream.
	Error string
}

// ParseLine interprets one decoded line.
//
// ok is false for lines that carry no frame: blank lines, comments and
// other SSE fields. A data line with an invalid payload returns
// ErrMalformedFrame so the caller can count and skip it.
func ParseLine(line string) (frame Frame, ok bool, err error) {
	payload, isData := strings.CutPrefix(line, "data:")
	if !isData {
		return Frame{}, false, nil
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Frame{}, false, nil
	}
	if payload == doneSentinel {
		return Frame{Done: true}, true, nil
	}
	if !gjson.Valid(payload) {
		return Frame{}, false, ErrMalformedFrame
	}

	res := gjson.Parse(payload)
	if msg := res.Get("error.message"); msg.Exists() {
		return Frame{Error: msg.String()}, true, nil
	}
	return Frame{
		Content:      res.Get("choices.0.delta.content").String(),
		FinishReason: res.Get("choices.0.finish_reason").String(),
	}, true, nil
}
