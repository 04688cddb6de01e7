// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the daemon control channel: a newline-
// delimited JSON request/response protocol over a local Unix socket,
// used by short-lived launcher processes to detect, command, and
// bootstrap the long-lived daemon. It also manages the daemon record
// file and the liveness probe built on both.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// HandlerFunc processes one request line for a specific command. The
// raw parameter is the full JSON request (including the "cmd" field);
// handlers decode command-specific fields from it.
//
// The returned map is merged into the {ok:true} response object; nil
// yields a bare {ok:true}. A returned error yields {ok:false, error}.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) (map[string]any, error)

// Server serves the control protocol on a Unix socket. Each connection
// may carry many request lines; every line is parsed independently and
// answered with exactly one response line, in receipt order. A
// malformed line gets {ok:false, error:"parse error"} and the
// connection stays open.
//
// Register commands with Handle before calling Serve.
type Server struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     *slog.Logger

	// active tracks in-flight connections for graceful shutdown.
	active sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		logger:     logger,
	}
}

// Handle registers a handler for the given command name. Panics on
// duplicate registration, which is a programming error.
func (s *Server) Handle(cmd string, handler HandlerFunc) {
	if _, exists := s.handlers[cmd]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for command %q", cmd))
	}
	s.handlers[cmd] = handler
}

// Serve listens on the Unix socket and dispatches request lines to
// registered handlers. Blocks until ctx is cancelled, then stops
// accepting and waits for open connections to finish.
//
// Any stale socket file is removed before binding, so a crashed
// daemon's leftover socket never causes "address in use". A bind
// failure is returned to the caller: if another live daemon holds the
// socket, startup must fail.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("binding control socket %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control channel listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("control accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// maxRequestSize bounds a single request line.
const maxRequestSize = 1024 * 1024

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Responses are written before the next line is read, so they
		// leave in receipt order per connection.
		s.writeResponse(conn, s.dispatch(ctx, line))
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) map[string]any {
	var header struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return map[string]any{"ok": false, "error": "parse error"}
	}
	if header.Cmd == "" {
		return map[string]any{"ok": false, "error": "missing required field: cmd"}
	}

	handler, exists := s.handlers[header.Cmd]
	if !exists {
		return map[string]any{"ok": false, "error": fmt.Sprintf("unknown command %q", header.Cmd)}
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Debug("control command failed", "cmd", header.Cmd, "error", err)
		return map[string]any{"ok": false, "error": err.Error()}
	}

	response := map[string]any{"ok": true}
	for key, value := range result {
		response[key] = value
	}
	return response
}

// writeTimeout bounds how long a response write may block on a stalled
// client.
const writeTimeout = 10 * time.Second

func (s *Server) writeResponse(conn net.Conn, response map[string]any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	encoded, err := json.Marshal(response)
	if err != nil {
		// Only handler-supplied values can fail to marshal.
		encoded = []byte(`{"ok":false,"error":"internal: unencodable response"}`)
	}
	if _, err := conn.Write(append(encoded, '\n')); err != nil {
		s.logger.Debug("control response write failed", "error", err)
	}
}
