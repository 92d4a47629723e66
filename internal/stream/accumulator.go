// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// Accumulator holds the full answer text received so far.
// It is not safe for concurrent use; the assembler guards it.
type Accumulator struct {
	buf    strings.Builder
	deltas int
}

// Append adds one delta. Empty deltas are ignored.
func (a *Accumulator) Append(delta string) bool {
	if delta == "" {
		return false
	}
	a.buf.WriteString(delta)
	a.deltas++
	return true
}

// String returns the accumulated text.
func (a *Accumulator) String() string {
	return a.buf.String()
}

// Len returns the accumulated length in bytes.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

// Deltas returns how many non-empty deltas were appended.
func (a *Accumulator) Deltas() int {
	return a.deltas
}

// Reset discards the accumulated text.
func (a *Accumulator) Reset() {
	a.buf.Reset()
	a.deltas = 0
}
