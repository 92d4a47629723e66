// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "bytes"

// DefaultMaxLineBytes is the longest line the decoder keeps.
const DefaultMaxLineBytes = 1 << 20

// LineDecoder splits a byte stream into lines.
//
// A trailing partial line is carried into the next Feed, so the lines
// produced do not depend on where chunk boundaries fall. Lines end at "\n";
// a trailing "\r" is removed.
type LineDecoder struct {
	buf     []byte
	max     int
	skip    bool
	dropped int
}

// NewLineDecoder creates a decoder that drops lines longer than maxLine bytes.
func NewLineDecoder(maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineDecoder{max: maxLine}
}

// Feed appends p and returns every line it completes.
func (d *LineDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if d.skip {
			// Tail of an oversized line.
			d.skip = false
			continue
		}
		if len(line) > d.max {
			d.dropped++
			continue
		}
		lines = append(lines, string(trimCR(line)))
	}

	if len(d.buf) > d.max {
		d.buf = nil
		if !d.skip {
			d.dropped++
		}
		d.skip = true
	}

	// Compact so the backing array does not grow with the stream.
	if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return lines
}

// Remainder returns the partial line buffered so far and clears it.
// Called once at end of stream; the last frame may lack a newline.
func (d *LineDecoder) Remainder() string {
	if d.skip || len(d.buf) == 0 {
		d.buf = nil
		d.skip = false
		return ""
	}
	rest := string(trimCR(d.buf))
	d.buf = nil
	return rest
}

// Dropped returns how many oversized lines were discarded.
func (d *LineDecoder) Dropped() int {
	return d.dropped
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
