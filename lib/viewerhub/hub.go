// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewerhub fans session events out to websocket viewers. The
// hub owns the set of live connections and implements the broadcast
// surface the session registry drives; protocol handling for inbound
// viewer messages is delegated to the daemon via Handler.
package viewerhub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hallway-sh/hallway/lib/session"
)

// Handler routes inbound viewer traffic. Implemented by the daemon.
type Handler interface {
	// HandleConnect runs when a viewer connects, before any inbound
	// message. The daemon attaches the viewer to the default session.
	HandleConnect(v *Viewer)

	// HandleMessage processes one inbound JSON message.
	HandleMessage(ctx context.Context, v *Viewer, raw []byte)
}

// Hub tracks live viewers and fans out messages. It implements
// session.ViewerRegistry.
//
// Lock order: the registry mutex may be held when hub methods run, so
// the hub never calls into the registry while holding its own mutex.
type Hub struct {
	handler    Handler
	sendBuffer int
	logger     *slog.Logger

	mu      sync.Mutex
	viewers map[*Viewer]struct{}

	upgrader websocket.Upgrader
}

// New creates an empty hub. sendBuffer is the per-viewer outbound
// channel capacity.
func New(handler Handler, sendBuffer int, logger *slog.Logger) *Hub {
	return &Hub{
		handler:    handler,
		sendBuffer: sendBuffer,
		logger:     logger,
		viewers:    make(map[*Viewer]struct{}),
		upgrader: websocket.Upgrader{
			// The daemon is a local, single-user process; cross-origin
			// viewer pages (e.g. a phone on the LAN) are the point.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast delivers a message to every connected viewer.
func (h *Hub) Broadcast(message any) {
	for _, v := range h.snapshot() {
		v.Send(message)
	}
}

// BroadcastToSession delivers a message to every viewer attached to
// the given session. Order across viewers is unspecified; order per
// viewer equals call order.
func (h *Hub) BroadcastToSession(localID int, message any) {
	for _, v := range h.snapshot() {
		if v.SessionID() == localID {
			v.Send(message)
		}
	}
}

// AttachedViewers returns the viewers currently attached to a session.
func (h *Hub) AttachedViewers(localID int) []session.Viewer {
	var attached []session.Viewer
	for _, v := range h.snapshot() {
		if v.SessionID() == localID {
			attached = append(attached, v)
		}
	}
	return attached
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

func (h *Hub) snapshot() []*Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Viewer, 0, len(h.viewers))
	for v := range h.viewers {
		out = append(out, v)
	}
	return out
}

// ServeHTTP upgrades the request to a websocket and runs the viewer's
// read loop until the connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	v := newViewer(conn, h.sendBuffer, h.logger)
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	h.mu.Unlock()
	go v.writePump()

	h.logger.Info("viewer connected", "viewer", v.ID, "remote", r.RemoteAddr)
	h.handler.HandleConnect(v)

	h.readLoop(r.Context(), v)

	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()
	v.closeSend()
	v.close()
	h.logger.Info("viewer disconnected", "viewer", v.ID)
}

func (h *Hub) readLoop(ctx context.Context, v *Viewer) {
	for {
		select {
		case <-v.Done():
			// Write pump died; no point reading further.
			return
		default:
		}
		messageType, raw, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handler.HandleMessage(ctx, v, raw)
	}
}
