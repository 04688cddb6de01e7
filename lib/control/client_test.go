// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/hallway-sh/hallway/lib/testutil"
)

func TestSendCommandNoSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	response := SendCommand(socketPath, map[string]any{"cmd": "ping"})
	if response.OK {
		t.Fatal("command to missing socket succeeded")
	}
	if response.Error != "daemon not responding" {
		t.Errorf("error %q, want %q", response.Error, "daemon not responding")
	}
}

// A socket file whose listener is gone refuses connections; the client
// reports the same distinct message as a missing socket.
func TestSendCommandRefusedSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "dead.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// Closing the listener leaves nothing accepting. Some platforms
	// unlink the socket file on close, which yields ENOENT instead of
	// ECONNREFUSED; both map to the same message.
	listener.Close()

	response := SendCommand(socketPath, map[string]any{"cmd": "ping"})
	if response.OK {
		t.Fatal("command to dead socket succeeded")
	}
	if response.Error != "daemon not responding" {
		t.Errorf("error %q, want %q", response.Error, "daemon not responding")
	}
}

// A server that accepts but never answers trips the exchange deadline.
func TestSendCommandTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the command timeout")
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "mute.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		var held []net.Conn
		for {
			conn, err := listener.Accept()
			if err != nil {
				for _, c := range held {
					c.Close()
				}
				return
			}
			// Hold the connection open without responding.
			held = append(held, conn)
		}
	}()

	response := SendCommand(socketPath, map[string]any{"cmd": "ping"})
	if response.OK {
		t.Fatal("command to mute server succeeded")
	}
	if response.Error != "timeout" {
		t.Errorf("error %q, want %q", response.Error, "timeout")
	}
}
