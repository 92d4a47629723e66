// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a streamed chat-completions response into an
// assistant message that grows while the answer arrives.
//
// The body is decoded incrementally into lines, each "data:" line is parsed
// as a frame, and delta text is accumulated. Publishing the accumulated text
// is throttled so a fast endpoint cannot flood the renderer: at most one
// flush per interval, with an early request deferred to the interval
// boundary and a final unconditional flush when the stream ends.
//
// # Lifecycle
//
//	connecting -> streaming -> completed | cancelled | errored
//
// A failure status goes straight to errored. Cancellation keeps whatever was
// already published and performs no further writes.
package stream
