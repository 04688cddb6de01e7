// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/hallway-sh/hallway/lib/control"
	"github.com/hallway-sh/hallway/lib/version"
)

// registerControlHandlers wires the launcher-facing control commands.
// Every handler returns its payload synchronously; the control server
// guarantees one response line per request line in receipt order.
func registerControlHandlers(server *control.Server, d *daemon, stop func()) {
	server.Handle("ping", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		return map[string]any{"pid": os.Getpid()}, nil
	})

	server.Handle("status", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		return map[string]any{
			"pid":      os.Getpid(),
			"version":  version.Info(),
			"project":  d.projectDir,
			"sessions": len(d.registry.List()),
			"viewers":  d.hub.ViewerCount(),
		}, nil
	})

	server.Handle("list-sessions", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		return map[string]any{"sessions": d.registry.List()}, nil
	})

	server.Handle("stop", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		// Respond first, then shut down: the response line must reach
		// the launcher before the socket goes away.
		go stop()
		return map[string]any{"stopping": true}, nil
	})
}
