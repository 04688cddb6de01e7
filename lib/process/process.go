// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides small helpers for process lifecycle: the
// standard binary entrypoint error handler and pid liveness probing.
package process

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard hallway binary entrypoint error handler. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Alive reports whether a process with the given pid exists. It sends
// signal 0, which performs permission and existence checks without
// delivering a signal. EPERM means the process exists but belongs to
// another user, which still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
