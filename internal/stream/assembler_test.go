// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingSink captures every sink call.
type recordingSink struct {
	mu        sync.Mutex
	begins    int
	publishes []string
	notices   []string
	published chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{published: make(chan string, 100)}
}

func (s *recordingSink) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
}

func (s *recordingSink) Publish(content string) {
	s.mu.Lock()
	s.publishes = append(s.publishes, content)
	s.mu.Unlock()
	s.published <- content
}

func (s *recordingSink) Fail(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice)
}

func (s *recordingSink) snapshot() (int, []string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, append([]string(nil), s.publishes...), append([]string(nil), s.notices...)
}

func deltaFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func okResponse(body io.ReadCloser) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: body}
}

func stringResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// chunkedReader returns one chunk per Read call.
type chunkedReader struct {
	chunks []string
	err    error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkedReader) Close() error { return nil }

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestConsume_HelloScenario(t *testing.T) {
	body := deltaFrame("He") + deltaFrame("llo") + "data: [DONE]\n\n"
	sink := newRecordingSink()

	a := NewAssembler(WithClock(newFakeClock()))
	res := a.Consume(context.Background(), okResponse(io.NopCloser(strings.NewReader(body))), sink)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, 2, res.Frames)

	begins, publishes, notices := sink.snapshot()
	assert.Equal(t, 1, begins)
	require.NotEmpty(t, publishes)
	assert.Equal(t, "Hello", publishes[len(publishes)-1])
	assert.Empty(t, notices)
}

func TestConsume_ChunkBoundaryIndependence(t *testing.T) {
	body := deltaFrame("Hé") + ": ping\n" + deltaFrame("llo ") + "data: {broken\n" + deltaFrame("wörld") + "data: [DONE]"

	for split := 1; split < len(body); split++ {
		sink := newRecordingSink()
		r := &chunkedReader{chunks: []string{body[:split], body[split:]}}
		res := NewAssembler(WithClock(newFakeClock())).Consume(context.Background(), okResponse(r), sink)

		require.Equal(t, StateCompleted, res.State, "split at %d", split)
		assert.Equal(t, "Héllo wörld", res.Content, "split at %d", split)
		assert.Equal(t, 1, res.Skipped, "split at %d", split)
	}
}

func TestConsume_ResidualLineWithoutNewline(t *testing.T) {
	body := deltaFrame("a") + strings.TrimSuffix(deltaFrame("b"), "\n\n")
	sink := newRecordingSink()

	res := NewAssembler(WithClock(newFakeClock())).Consume(context.Background(), okResponse(io.NopCloser(strings.NewReader(body))), sink)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "ab", res.Content)
}

func TestConsume_ThrottlesFlushes(t *testing.T) {
	clock := newFakeClock()
	chunks := make([]string, 0, 100)
	want := ""
	for i := 0; i < 100; i++ {
		d := fmt.Sprintf("t%d ", i)
		chunks = append(chunks, deltaFrame(d))
		want += d
	}
	sink := newRecordingSink()

	res := NewAssembler(WithClock(clock)).Consume(context.Background(), okResponse(&chunkedReader{chunks: chunks}), sink)

	// Time never advances: the first delta flushes at once, every later one
	// coalesces into a deferred flush that the final flush supersedes.
	_, publishes, _ := sink.snapshot()
	assert.Equal(t, []string{"t0 ", want}, publishes)
	assert.Equal(t, 2, res.Flushes)
	assert.Zero(t, clock.Scheduled(), "pending deferred flush must be cancelled on settle")
}

func TestConsume_DeferredFlushFiresAtBoundary(t *testing.T) {
	clock := newFakeClock()
	pr, pw := io.Pipe()
	sink := newRecordingSink()
	done := make(chan Result, 1)

	go func() {
		done <- NewAssembler(WithClock(clock)).Consume(context.Background(), okResponse(pr), sink)
	}()

	_, err := io.WriteString(pw, deltaFrame("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", <-sink.published)

	_, err = io.WriteString(pw, deltaFrame("b"))
	require.NoError(t, err)
	// The write returns once the reader has taken the bytes; the next write
	// returns only after "b" has been ingested.
	_, err = io.WriteString(pw, ": keep-alive\n")
	require.NoError(t, err)

	clock.Advance(51 * time.Millisecond)
	assert.Equal(t, "ab", <-sink.published)

	require.NoError(t, pw.Close())
	res := <-done
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "ab", res.Content)

	_, publishes, _ := sink.snapshot()
	assert.Equal(t, []string{"a", "ab"}, publishes, "final flush of unchanged content is a no-op")
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestConsume_CancelKeepsFlushedContent(t *testing.T) {
	clock := newFakeClock()
	pr, pw := io.Pipe()
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)

	go func() {
		done <- NewAssembler(WithClock(clock)).Consume(ctx, okResponse(pr), sink)
	}()

	_, err := io.WriteString(pw, deltaFrame("He"))
	require.NoError(t, err)
	assert.Equal(t, "He", <-sink.published)

	// "llo" is accumulated but its flush is deferred.
	_, err = io.WriteString(pw, deltaFrame("llo"))
	require.NoError(t, err)

	cancel()
	res := <-done

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, "He", res.Content)
	assert.NoError(t, res.Err)

	clock.Advance(time.Second)
	_, err = io.WriteString(pw, deltaFrame("!"))
	assert.Error(t, err, "body is closed after cancellation")

	_, publishes, notices := sink.snapshot()
	assert.Equal(t, []string{"He"}, publishes)
	assert.Empty(t, notices)
}

func TestConsume_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := newRecordingSink()

	res := NewAssembler().Consume(ctx, okResponse(io.NopCloser(strings.NewReader(deltaFrame("x")))), sink)

	assert.Equal(t, StateCancelled, res.State)
	begins, publishes, notices := sink.snapshot()
	assert.Zero(t, begins)
	assert.Empty(t, publishes)
	assert.Empty(t, notices)
}

func TestIngest_NoPublishAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := newRecordingSink()
	r := &run{ctx: ctx, sink: sink, state: StateStreaming}
	r.throttle = NewThrottler(50*time.Millisecond, newFakeClock(), r.deferredFlush)
	defer r.throttle.Stop()

	// Stop lands between the body read and ingest.
	cancel()
	require.NoError(t, r.ingest([]string{strings.TrimSpace(deltaFrame("late"))}))

	_, publishes, _ := sink.snapshot()
	assert.Empty(t, publishes)
	assert.Equal(t, 1, r.res.Frames)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestConsume_FailureStatus(t *testing.T) {
	sink := newRecordingSink()
	resp := stringResponse(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)

	res := NewAssembler().Consume(context.Background(), resp, sink)

	assert.Equal(t, StateErrored, res.State)
	require.Error(t, res.Err)
	begins, publishes, notices := sink.snapshot()
	assert.Zero(t, begins, "no streaming message for a failure status")
	assert.Empty(t, publishes)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "bad key")
	assert.True(t, strings.HasPrefix(notices[0], "❌ **Error**\n\n"))
}

func TestConsume_FailureStatusFallsBackToStatusText(t *testing.T) {
	sink := newRecordingSink()
	res := NewAssembler().Consume(context.Background(), stringResponse(http.StatusBadGateway, "upstream died"), sink)

	assert.Equal(t, StateErrored, res.State)
	_, _, notices := sink.snapshot()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "502 Bad Gateway")
}

func TestConsume_ReadErrorFlushesBeforeNotice(t *testing.T) {
	clock := newFakeClock()
	r := &chunkedReader{
		chunks: []string{deltaFrame("par"), deltaFrame("tial")},
		err:    errors.New("connection reset by peer"),
	}
	sink := newRecordingSink()

	res := NewAssembler(WithClock(clock)).Consume(context.Background(), okResponse(r), sink)

	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, "partial", res.Content)
	assert.ErrorContains(t, res.Err, "connection reset")

	begins, publishes, notices := sink.snapshot()
	assert.Equal(t, 1, begins)
	assert.Equal(t, []string{"par", "partial"}, publishes)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "connection reset by peer")
}

func TestConsume_InStreamError(t *testing.T) {
	body := deltaFrame("ok") + `data: {"error":{"message":"model overloaded"}}` + "\n\n"
	sink := newRecordingSink()

	res := NewAssembler(WithClock(newFakeClock())).Consume(context.Background(), okResponse(io.NopCloser(strings.NewReader(body))), sink)

	assert.Equal(t, StateErrored, res.State)
	_, _, notices := sink.snapshot()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "model overloaded")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.False(t, StateStreaming.Settled())
	assert.True(t, StateCancelled.Settled())
}

func TestErrorNotice(t *testing.T) {
	assert.Equal(t, "❌ **Error**\n\nboom", ErrorNotice(errors.New("boom")))
	assert.Equal(t, "❌ **Error**\n\nAn unknown error occurred.", ErrorNotice(nil))
	assert.True(t, IsNotice(ErrorNotice(nil)))
	assert.False(t, IsNotice("Error handling in Go"))
}
