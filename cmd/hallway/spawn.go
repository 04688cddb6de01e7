// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hallway-sh/hallway/lib/config"
	"github.com/hallway-sh/hallway/lib/control"
)

// spawnDaemon starts hallwayd detached from this process: its own
// session (so terminal signals never reach it), stdout and stderr
// redirected to the log file under the hallway home.
func spawnDaemon(home, projectDir string) (int, error) {
	binary, err := daemonBinary()
	if err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(config.LogPath(home), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return 0, fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, "--project-dir", projectDir)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", binary, err)
	}
	pid := cmd.Process.Pid
	// Release rather than Wait: the daemon outlives the launcher.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release daemon process: %w", err)
	}
	return pid, nil
}

// daemonBinary locates hallwayd, preferring the copy installed next to
// the launcher over whatever is on PATH.
func daemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "hallwayd")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	binary, err := exec.LookPath("hallwayd")
	if err != nil {
		return "", fmt.Errorf("hallwayd not found next to launcher or on PATH: %w", err)
	}
	return binary, nil
}

// waitForDaemon polls the control socket until a ping succeeds or the
// deadline passes. The daemon writes its record only after the socket
// is bound, so a successful ping means it is fully up.
func waitForDaemon(socketPath string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		response := control.SendCommand(socketPath, map[string]any{"cmd": "ping"})
		if response.OK {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no response after %s: %s", wait, response.Error)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// decodeResponse unmarshals the raw response payload into out.
func decodeResponse(response control.Response, out any) error {
	if len(response.Raw) == 0 {
		return fmt.Errorf("empty response payload")
	}
	if err := json.Unmarshal(response.Raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
