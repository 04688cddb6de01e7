// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package viewerhub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Viewer is one live websocket connection, attached to exactly one
// session at a time. Outbound messages are enqueued on a buffered
// channel drained by a write pump; a viewer that cannot keep up loses
// messages rather than stalling the session engine.
type Viewer struct {
	// ID identifies the viewer in logs.
	ID string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closeWS sync.Once
	logger  *slog.Logger

	// sendMu serializes Send against closeSend: a broadcast may hold a
	// stale snapshot of the viewer set while the connection tears down.
	sendMu     sync.RWMutex
	sendClosed bool

	// sessionID is the currently attached session. Written by the
	// registry (under its mutex) via Bind; read by the hub's fan-out.
	sessionID atomic.Int64

	// dropped counts messages lost to a full send buffer.
	dropped atomic.Int64
}

func newViewer(conn *websocket.Conn, sendBuffer int, logger *slog.Logger) *Viewer {
	v := &Viewer{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	return v
}

// Send enqueues one JSON-serializable message. Never blocks: when the
// buffer is full the message is dropped and counted. Delivery order
// for messages that are enqueued equals enqueue order.
func (v *Viewer) Send(message any) {
	encoded, err := json.Marshal(message)
	if err != nil {
		v.logger.Error("encoding viewer message", "viewer", v.ID, "error", err)
		return
	}
	v.sendMu.RLock()
	defer v.sendMu.RUnlock()
	if v.sendClosed {
		return
	}
	select {
	case v.send <- encoded:
	default:
		if v.dropped.Add(1) == 1 {
			v.logger.Warn("viewer send buffer full, dropping messages", "viewer", v.ID)
		}
	}
}

// closeSend stops further enqueues and closes the send channel so the
// write pump drains and exits.
func (v *Viewer) closeSend() {
	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	if !v.sendClosed {
		v.sendClosed = true
		close(v.send)
	}
}

// Bind switches the viewer's current session.
func (v *Viewer) Bind(localID int) {
	v.sessionID.Store(int64(localID))
}

// SessionID returns the viewer's current session.
func (v *Viewer) SessionID() int {
	return int(v.sessionID.Load())
}

// Done is closed when the write pump exits; the read loop uses it to
// stop promptly after a write failure.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// writePump drains the send channel onto the websocket until the
// channel is closed or a write fails.
func (v *Viewer) writePump() {
	defer close(v.done)
	for encoded := range v.send {
		if err := v.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
			v.logger.Debug("viewer write failed", "viewer", v.ID, "error", err)
			return
		}
	}
}

// close shuts the websocket down once.
func (v *Viewer) close() {
	v.closeWS.Do(func() {
		v.conn.Close()
	})
}
