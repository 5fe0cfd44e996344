// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes a newline-delimited JSON response into fragments.
//
// A producer goroutine reads lines from the body and hands decoded fragments
// to the consumer over a channel, so exactly one goroutine touches the body
// reader and exactly one consumes fragments. Close may be called from any
// goroutine; it closes the body, which unblocks a read in progress.
type StreamReader struct {
	body      io.ReadCloser
	lines     chan lineResult
	closed    chan struct{}
	closeOnce sync.Once
	skipped   atomic.Int64
}

type lineResult struct {
	frag StreamFragment
	err  error
}

// NewStreamReader starts reading body. The caller must call Close.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	s := &StreamReader{
		body:   body,
		lines:  make(chan lineResult),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

// Next returns the next fragment in wire order.
//
// It returns io.EOF after the final fragment, at end of body, or once the
// reader has been closed. A line carrying an "error" field ends the stream
// with a *ClientError of type ErrTypeStream. If ctx is done first, ctx.Err()
// is returned.
func (s *StreamReader) Next(ctx context.Context) (StreamFragment, error) {
	select {
	case <-ctx.Done():
		return StreamFragment{}, ctx.Err()
	case r, ok := <-s.lines:
		if !ok {
			return StreamFragment{}, io.EOF
		}
		return r.frag, r.err
	}
}

// Close releases the underlying connection. It is idempotent and safe to
// call concurrently with Next.
func (s *StreamReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})
	return err
}

// Skipped returns how many lines were discarded because they did not decode.
func (s *StreamReader) Skipped() int64 {
	return s.skipped.Load()
}

func (s *StreamReader) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// send delivers a result unless the reader is closed first.
func (s *StreamReader) send(r lineResult) bool {
	select {
	case s.lines <- r:
		return true
	case <-s.closed:
		return false
	}
}

// run is the producer loop.
func (s *StreamReader) run() {
	defer close(s.lines)

	reader := bufio.NewReader(s.body)
	for {
		line, readErr := reader.ReadBytes('\n')

		// A final line without a trailing newline is still processed.
		if len(bytes.TrimSpace(line)) > 0 {
			frag, ok, err := decodeLine(line)
			switch {
			case err != nil:
				s.send(lineResult{err: err})
				return
			case !ok:
				s.skipped.Add(1)
			default:
				if !s.send(lineResult{frag: frag}) {
					return
				}
				if frag.Done {
					return
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || s.isClosed() {
				return
			}
			s.send(lineResult{err: &ClientError{
				Type:    ErrTypeConnection,
				Message: "stream interrupted",
				Cause:   readErr,
			}})
			return
		}
	}
}

// decodeLine parses one line. ok is false for lines that should be skipped;
// err is set when the server reported an error in-band.
func decodeLine(line []byte) (frag StreamFragment, ok bool, err error) {
	var w wireLine
	if json.Unmarshal(line, &w) != nil {
		// Skip malformed lines
		return StreamFragment{}, false, nil
	}

	if w.Error != "" {
		return StreamFragment{}, false, &ClientError{Type: ErrTypeStream, Message: w.Error}
	}

	frag = StreamFragment{
		Content:    firstNonEmpty(w.Content, w.Response),
		Reasoning:  firstNonEmpty(w.Thinking, w.Reasoning),
		Done:       w.Done,
		DoneReason: w.DoneReason,
		Model:      w.Model,
	}
	if w.Message != nil {
		frag.Content = firstNonEmpty(w.Message.Content, frag.Content)
		frag.Reasoning = firstNonEmpty(w.Message.Thinking, frag.Reasoning)
	}

	// On completion, extract statistics
	if w.Done {
		frag.PromptTokens = w.PromptEvalCount
		frag.CompletionTokens = w.EvalCount
		frag.TotalDuration = time.Duration(w.TotalDuration)
		frag.LoadDuration = time.Duration(w.LoadDuration)
		frag.PromptEvalDuration = time.Duration(w.PromptEvalDuration)
		frag.EvalDuration = time.Duration(w.EvalDuration)
	}

	return frag, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
