// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"syscall"
	"time"
)

// CommandTimeout bounds one full request/response exchange.
const CommandTimeout = 3 * time.Second

// Response is one decoded control response line. Command-specific
// fields stay available in Raw for the caller to decode.
type Response struct {
	OK    bool
	Error string
	Raw   json.RawMessage
}

// SendCommand opens a connection to the daemon's control socket,
// writes one JSON request line, and waits for exactly one response
// line. The whole exchange is bounded by CommandTimeout; on expiry the
// result is {ok:false, error:"timeout"}. A refused connection is
// reported distinctly as "daemon not responding" so launchers can tell
// a dead daemon from a misbehaving one.
func SendCommand(socketPath string, request any) Response {
	conn, err := net.DialTimeout("unix", socketPath, CommandTimeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
			return Response{OK: false, Error: "daemon not responding"}
		}
		return Response{OK: false, Error: err.Error()}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(CommandTimeout))

	encoded, err := json.Marshal(request)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if _, err := conn.Write(append(encoded, '\n')); err != nil {
		return transportError(err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return transportError(err)
	}

	var decoded struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &decoded); err != nil {
		return Response{OK: false, Error: "invalid response"}
	}
	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Response{OK: decoded.OK, Error: decoded.Error, Raw: raw}
}

func transportError(err error) Response {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Response{OK: false, Error: "timeout"}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Response{OK: false, Error: "daemon not responding"}
	}
	return Response{OK: false, Error: err.Error()}
}
