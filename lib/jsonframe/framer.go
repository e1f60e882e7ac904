// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonframe extracts complete JSON values from a TCP byte
// stream that carries no length prefixes or delimiters.
//
// The bridge wire protocol is a sequence of bare JSON objects: the
// only way to find a message boundary is to parse. A Framer buffers
// incoming chunks and yields one complete top-level value at a time,
// regardless of how the stream was split into reads — a value may
// arrive byte by byte, or several values may arrive in one segment.
//
// The framer tells "incomplete" apart from "corrupt" by where the
// decoder fails: an error at the end of the buffered bytes may still
// be completed by future input, while an error strictly inside them
// never can. A top-level value that ends exactly at a chunk boundary
// is framed as soon as it is syntactically complete; bare numbers
// (which could in principle be extended by later digits) therefore
// frame eagerly, but the bridge protocol only carries objects so the
// ambiguity does not arise in practice.
package jsonframe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBuffer is the per-framer cap on unconsumed input. A peer
// that streams this much without ever completing a JSON value is not
// speaking the protocol; the connection handler closes on ErrBufferFull
// rather than buffering without bound.
const DefaultMaxBuffer = 1 << 20

// ErrBufferFull is returned by Feed when accepting the chunk would
// exceed the framer's buffer limit.
var ErrBufferFull = errors.New("jsonframe: buffer limit exceeded")

// Framer accumulates stream bytes and splits them into complete JSON
// values. Not safe for concurrent use; each connection owns one.
type Framer struct {
	buffer    []byte
	maxBuffer int
}

// New returns a Framer holding at most maxBuffer bytes of unconsumed
// input. A maxBuffer of zero applies DefaultMaxBuffer; a negative
// value disables the limit.
func New(maxBuffer int) *Framer {
	if maxBuffer == 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Framer{maxBuffer: maxBuffer}
}

// Feed appends a chunk of stream bytes to the framer's buffer. The
// chunk is copied; the caller may reuse its read buffer immediately.
// Returns an error wrapping ErrBufferFull if the chunk would push the
// buffered total past the limit.
func (f *Framer) Feed(chunk []byte) error {
	if f.maxBuffer > 0 && len(f.buffer)+len(chunk) > f.maxBuffer {
		return fmt.Errorf("%w: %d buffered + %d fed > %d",
			ErrBufferFull, len(f.buffer), len(chunk), f.maxBuffer)
	}
	f.buffer = append(f.buffer, chunk...)
	return nil
}

// Next extracts the earliest complete JSON value from the buffer.
//
// Returns (value, true, nil) when a complete value was framed: the
// value and any whitespace preceding it are consumed, later bytes stay
// buffered for the next call. Returns (nil, false, nil) when the
// buffered bytes are empty or a proper prefix of a value — feed more
// input and call again. Returns an error when the buffer can never
// parse as JSON no matter what arrives later; the framer is then in an
// undefined state and the connection should be closed.
func (f *Framer) Next() (value []byte, ok bool, err error) {
	if len(f.buffer) == 0 {
		return nil, false, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(f.buffer))
	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Truncated mid-value (or whitespace only): more input
			// may complete it.
			return nil, false, nil
		}
		var syntaxError *json.SyntaxError
		if errors.As(err, &syntaxError) && syntaxError.Offset >= int64(len(f.buffer)) {
			// The decoder failed at the very end of what we have; a
			// future chunk may still make the value parse.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("jsonframe: invalid JSON in stream: %w", err)
	}

	// InputOffset is the end of the decoded value, counted from the
	// start of the buffer, so it also covers leading whitespace.
	consumed := int(decoder.InputOffset())
	f.buffer = f.buffer[consumed:]
	return raw, true, nil
}

// Buffered reports the number of unconsumed bytes currently held.
func (f *Framer) Buffered() int {
	return len(f.buffer)
}
