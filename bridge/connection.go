// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/jsonframe"
	"github.com/atelier-foundation/atelier-bridge/lib/netutil"
)

const (
	// readChunkSize is the per-read buffer. Commands larger than one
	// chunk accumulate in the framer.
	readChunkSize = 4096

	// maxCommandBuffer caps a connection's unframed input at 1 MiB. A
	// peer that streams more without completing a JSON value gets an
	// error Response and a closed connection instead of growing the
	// heap.
	maxCommandBuffer = 1 << 20

	// writeTimeout bounds a reply write. The writer is the tick loop's
	// reply closure; a peer that stops reading must not stall the
	// host's frame.
	writeTimeout = 10 * time.Second
)

// handleConnection reads the peer's byte stream until disconnect,
// unrecoverable input, or server stop. Every complete JSON value is
// decoded into a Command and enqueued for the tick loop with a reply
// closure; this goroutine itself never dispatches.
func (s *Server) handleConnection(ctx context.Context, connection net.Conn, connectionID int64) {
	defer connection.Close()

	logger := s.logger.With("connection_id", connectionID)
	logger.Debug("client connected", "remote_address", connection.RemoteAddr().String())

	framer := jsonframe.New(maxCommandBuffer)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := connection.Read(chunk)
		if n > 0 {
			if feedErr := framer.Feed(chunk[:n]); feedErr != nil {
				logger.Warn("command stream overflow", "error", feedErr)
				s.writeResponse(connection, logger, command.ErrorResponse(feedErr.Error()))
				return
			}
			if !s.dispatchFrames(ctx, connection, framer, logger) {
				return
			}
		}
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				logger.Debug("client disconnected")
			} else {
				logger.Debug("read failed", "error", err)
			}
			return
		}
	}
}

// dispatchFrames drains every complete value currently in the framer,
// enqueuing one execution item per command. Reports false when the
// connection should close: corrupt input, a non-object command, or the
// server stopping mid-enqueue.
func (s *Server) dispatchFrames(ctx context.Context, connection net.Conn, framer *jsonframe.Framer, logger *slog.Logger) bool {
	for {
		raw, ok, err := framer.Next()
		if err != nil {
			// The stream can never resynchronize; answer once and
			// hang up.
			logger.Warn("malformed command stream", "error", err)
			s.writeResponse(connection, logger, command.ErrorResponse(err.Error()))
			return false
		}
		if !ok {
			return true
		}

		var decoded command.Command
		if err := json.Unmarshal(raw, &decoded); err != nil {
			logger.Warn("command is not an object", "error", err)
			s.writeResponse(connection, logger, command.ErrorResponse("invalid command: expected a JSON object"))
			return false
		}

		item := func() {
			response := s.registry.Dispatch(ctx, decoded.Type, decoded.Params, s.flags)
			s.writeResponse(connection, logger, response)
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			logger.Debug("enqueue aborted", "command", decoded.Type, "error", err)
			return false
		}
		logger.Debug("command enqueued", "command", decoded.Type, "queued", s.queue.Len())
	}
}

// writeResponse marshals and writes one Response under the write
// deadline. Write failures are logged and swallowed: the command
// already executed, and a vanished peer is not an error the tick loop
// can act on.
func (s *Server) writeResponse(connection net.Conn, logger *slog.Logger, response command.Response) {
	encoded, err := json.Marshal(response)
	if err != nil {
		logger.Error("response not marshalable", "error", err)
		return
	}

	connection.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer connection.SetWriteDeadline(time.Time{})
	if _, err := connection.Write(encoded); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			logger.Debug("response write failed", "error", err)
		}
	}
}
