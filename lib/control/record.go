// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hallway-sh/hallway/lib/process"
)

// Record describes the last known daemon process. Launchers read it to
// decide whether to attach to a running daemon or spawn a fresh one.
type Record struct {
	PID        int    `json:"pid"`
	SocketPath string `json:"socketPath"`
	StartedAt  int64  `json:"startedAt"`
	Version    string `json:"version"`
}

// WriteRecord persists the daemon record atomically (write-to-temp,
// rename) so a concurrent reader never observes a partial file.
func WriteRecord(path string, record Record) error {
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding daemon record: %w", err)
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, append(encoded, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing daemon record: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("replacing daemon record: %w", err)
	}
	return nil
}

// LoadRecord reads the daemon record. A missing or unparseable file
// returns nil; the caller treats both as "no daemon".
func LoadRecord(path string) *Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return &record
}

// RemoveRecord deletes the daemon record file. Missing files are fine.
func RemoveRecord(path string) {
	_ = os.Remove(path)
}

// ClearStale removes both the daemon record and the socket file, for a
// launcher recovering from a crashed daemon before spawning a new one.
func ClearStale(recordPath, socketPath string) {
	_ = os.Remove(recordPath)
	_ = os.Remove(socketPath)
}

// probeTimeout bounds the liveness socket probe.
const probeTimeout = 1 * time.Second

// IsDaemonAlive reports whether the recorded daemon is actually
// running: its pid must exist and its control socket must accept a
// connection within one second. A live pid with an unreachable socket
// is dead for our purposes, since the daemon cannot be commanded.
func IsDaemonAlive(record *Record) bool {
	if record == nil || record.PID <= 0 {
		return false
	}
	if !process.Alive(record.PID) {
		return false
	}
	conn, err := net.DialTimeout("unix", record.SocketPath, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
