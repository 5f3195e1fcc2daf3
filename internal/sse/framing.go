// Package sse provides the shared SSE framing reader every provider adapter
// (internal/providers) builds its dialect-specific parsing on top of.
// Grounded on the teacher's openai_compat.go (bufio.Scanner over chat
// completion chunks) and gemini_cli.go (hand-rolled data: framing), unified
// here into one reader so the per-provider adapters only have to translate
// JSON shapes, not re-implement chunk framing.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// maxBufferBytes enforces the 4-MiB buffer cap named in spec.md §4.6.
const maxBufferBytes = 4 * 1024 * 1024

// defaultIdleTimeout is the idle-timeout default named in spec.md §4.6,
// used when a caller passes zero to NewReader. FORGE_STREAM_IDLE_TIMEOUT_SECS
// does not reach it: config.LoadRuntime parses that variable but has no
// caller, and the Gemini adapter passes a fixed 60s.
const defaultIdleTimeout = 60 * time.Second

// maxConsecutiveParseErrors is the parse-error threshold named in
// spec.md §4.6: 3 consecutive invalid JSON payloads produce an Error.
const maxConsecutiveParseErrors = 3

// DoneSentinel is the literal payload providers send to mean "no more
// data," per spec.md §4.6 ("treat data: [DONE] as Done").
const DoneSentinel = "[DONE]"

// Frame is one raw `data:` payload extracted from the byte stream, with
// multi-line data concatenated by "\n" as the SSE spec requires.
type Frame struct {
	Data string
}

// Reader tokenises an io.Reader into Frames, tolerating both LF+LF and
// CRLF+CRLF event boundaries.
type Reader struct {
	scanner     *bufio.Scanner
	idleTimeout time.Duration
}

// NewReader wraps body with the shared framing logic. idleTimeout of zero
// uses defaultIdleTimeout.
func NewReader(body io.Reader, idleTimeout time.Duration) *Reader {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxBufferBytes)
	scanner.Split(splitSSEEvents)
	return &Reader{scanner: scanner, idleTimeout: idleTimeout}
}

// splitSSEEvents is a bufio.SplitFunc that finds the next "\n\n" or
// "\r\n\r\n" event boundary, tolerating either line-ending style within
// one stream.
func splitSSEEvents(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		return idx + 4, data[:idx], nil
	}
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return idx + 2, data[:idx], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ReadFrame blocks for the next frame, applying the idle-timeout as a race
// against the underlying scan, and returns io.EOF once the stream ends
// cleanly. A read that exceeds idleTimeout returns ErrIdleTimeout.
func (r *Reader) ReadFrame(ctx context.Context) (*Frame, error) {
	type scanResult struct {
		ok  bool
		err error
	}
	resultCh := make(chan scanResult, 1)
	go func() {
		ok := r.scanner.Scan()
		resultCh <- scanResult{ok: ok, err: r.scanner.Err()}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.idleTimeout):
		return nil, ErrIdleTimeout
	case res := <-resultCh:
		if !res.ok {
			if res.err != nil {
				return nil, fmt.Errorf("sse: scan: %w", res.err)
			}
			return nil, io.EOF
		}
		return parseEventBlock(r.scanner.Bytes())
	}
}

// ErrIdleTimeout is surfaced as a stream Error event by the caller.
var ErrIdleTimeout = errors.New("sse: stream idle timeout")

// parseEventBlock extracts and concatenates every `data:` line in one SSE
// event block.
func parseEventBlock(block []byte) (*Frame, error) {
	lines := strings.Split(string(block), "\n")
	var dataLines []string
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, "data:") {
			v := strings.TrimPrefix(line, "data:")
			v = strings.TrimPrefix(v, " ")
			dataLines = append(dataLines, v)
		}
	}
	data := strings.Join(dataLines, "\n")
	if !utf8.ValidString(data) {
		return nil, fmt.Errorf("sse: invalid UTF-8 in frame")
	}
	return &Frame{Data: data}, nil
}
