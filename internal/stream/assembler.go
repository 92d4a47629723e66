// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/imajinxai/llm-arena/internal/cloud"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of one streamed answer.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settled reports whether s is terminal.
func (s State) Settled() bool {
	return s >= StateCompleted
}

// =============================================================================
// SINK
// =============================================================================

// Sink receives the visible effects of a stream.
//
// Begin creates the empty assistant message. Publish overwrites its content
// with the full text so far. Fail appends a separate error notice.
// Calls for one stream are serialised and happen in stream order.
type Sink interface {
	Begin()
	Publish(content string)
	Fail(notice string)
}

// NoticePrefix starts every error notice written into a panel.
const NoticePrefix = "❌ **Error**"

// IsNotice reports whether an assistant message is an error notice rather
// than model output.
func IsNotice(content string) bool {
	return strings.HasPrefix(content, NoticePrefix)
}

// ErrorNotice formats err the way failed requests appear in a panel.
func ErrorNotice(err error) string {
	msg := "An unknown error occurred."
	if err != nil {
		msg = err.Error()
	}
	return NoticePrefix + "\n\n" + msg
}

// =============================================================================
// RESULT
// =============================================================================

// Result summarises one consumed stream.
type Result struct {
	State        State
	Content      string // last published content
	Err          error  // set when State is StateErrored
	FinishReason string
	Frames       int
	Skipped      int // malformed or oversized frames
	Flushes      int
	Duration     time.Duration
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler consumes streamed responses. One Assembler can serve many
// concurrent streams; per-stream state lives in Consume.
type Assembler struct {
	interval time.Duration
	maxLine  int
	clock    Clock
	logger   *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFlushInterval sets the throttle interval.
func WithFlushInterval(d time.Duration) Option {
	return func(a *Assembler) { a.interval = d }
}

// WithMaxLineBytes sets the longest frame line accepted.
func WithMaxLineBytes(n int) Option {
	return func(a *Assembler) { a.maxLine = n }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(a *Assembler) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an assembler with the default 50ms flush interval.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		interval: DefaultFlushInterval,
		maxLine:  DefaultMaxLineBytes,
		clock:    SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Interval returns the flush interval.
func (a *Assembler) Interval() time.Duration {
	return a.interval
}

// Consume reads resp to the end and reports the outcome.
//
// The body is closed on return. Cancelling ctx stops reading at the next
// suspension point; content already published is kept and nothing more is
// written to sink.
func (a *Assembler) Consume(ctx context.Context, resp *http.Response, sink Sink) Result {
	start := a.clock.Now()
	defer resp.Body.Close()

	r := &run{ctx: ctx, sink: sink, state: StateConnecting}
	r.throttle = NewThrottler(a.interval, a.clock, r.deferredFlush)
	defer r.throttle.Stop()

	res := a.consume(ctx, resp, r)
	res.Duration = a.clock.Now().Sub(start)

	a.logger.Debug("stream settled",
		"state", res.State.String(),
		"frames", res.Frames,
		"skipped", res.Skipped,
		"flushes", res.Flushes,
		"bytes", len(res.Content),
		"elapsed", res.Duration)
	return res
}

func (a *Assembler) consume(ctx context.Context, resp *http.Response, r *run) Result {
	if ctx.Err() != nil {
		return r.cancel()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return r.fail(cloud.ReadError(resp))
	}

	r.begin()

	// Unblock a pending body read when the request is cancelled.
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	dec := NewLineDecoder(a.maxLine)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if ctx.Err() != nil {
			return r.cancel()
		}
		if n > 0 {
			if err := r.ingest(dec.Feed(buf[:n])); err != nil {
				return r.fail(err)
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			return r.fail(fmt.Errorf("stream interrupted: %w", readErr))
		}
		if rest := dec.Remainder(); rest != "" {
			if err := r.ingest([]string{rest}); err != nil {
				return r.fail(err)
			}
		}
		r.addSkipped(dec.Dropped())
		return r.complete()
	}
}

// =============================================================================
// PER-STREAM STATE
// =============================================================================

// run is the mutable state of one stream. The reader goroutine and the
// deferred-flush timer share mu, so flushes apply in delta order.
type run struct {
	mu        sync.Mutex
	ctx       context.Context
	sink      Sink
	throttle  *Throttler
	acc       Accumulator
	published string
	state     State
	res       Result
}

func (r *run) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateStreaming
	r.sink.Begin()
}

// ingest applies decoded lines and requests a flush if text arrived.
func (r *run) ingest(lines []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grew := false
	for _, line := range lines {
		frame, ok, err := ParseLine(line)
		if err != nil {
			r.res.Skipped++
			continue
		}
		if !ok || frame.Done {
			continue
		}
		r.res.Frames++
		if frame.Error != "" {
			return errors.New(frame.Error)
		}
		if frame.FinishReason != "" {
			r.res.FinishReason = frame.FinishReason
		}
		if r.acc.Append(frame.Content) {
			grew = true
		}
	}

	// A Stop that lands after the read must not see the message change.
	if r.ctx.Err() != nil {
		return nil
	}
	if grew && r.throttle.Request() {
		r.flushLocked()
	}
	return nil
}

func (r *run) addSkipped(n int) {
	r.mu.Lock()
	r.res.Skipped += n
	r.mu.Unlock()
}

// deferredFlush runs on the timer goroutine.
func (r *run) deferredFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Settled() || r.ctx.Err() != nil {
		return
	}
	r.flushLocked()
}

// flushLocked publishes the accumulator. Publishing unchanged content is
// skipped, so repeated flushes leave the message as it was.
func (r *run) flushLocked() {
	content := r.acc.String()
	if content == r.published {
		return
	}
	r.sink.Publish(content)
	r.published = content
	r.res.Flushes++
}

func (r *run) complete() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttle.Stop()
	r.flushLocked()
	return r.settleLocked(StateCompleted, nil)
}

func (r *run) cancel() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttle.Stop()
	return r.settleLocked(StateCancelled, nil)
}

// fail flushes what was received, then appends the error notice.
func (r *run) fail(err error) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttle.Stop()
	if r.state == StateStreaming {
		r.flushLocked()
	}
	r.sink.Fail(ErrorNotice(err))
	return r.settleLocked(StateErrored, err)
}

func (r *run) settleLocked(s State, err error) Result {
	r.state = s
	r.acc.Reset()
	r.res.State = s
	r.res.Err = err
	r.res.Content = r.published
	return r.res
}
