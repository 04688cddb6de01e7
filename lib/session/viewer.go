// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Viewer is the registry's view of one connected client. Implemented
// by lib/viewerhub over a websocket; faked in tests.
//
// Send must never block: implementations enqueue into a buffered
// channel and drop (with a log line) when the viewer cannot keep up.
// Per-viewer delivery order equals enqueue order, which under the
// registry mutex equals commit order.
type Viewer interface {
	// Send enqueues one JSON-serializable message for delivery.
	Send(v any)

	// Bind switches the viewer's current session.
	Bind(localID int)

	// SessionID returns the viewer's current session.
	SessionID() int
}

// ViewerRegistry is the broadcast fan-out surface the registry drives.
// Implemented by lib/viewerhub.
//
// Implementations must not call back into the Registry from these
// methods: the registry mutex is held when they run.
type ViewerRegistry interface {
	// Broadcast delivers v to every connected viewer regardless of
	// which session it is attached to.
	Broadcast(v any)

	// BroadcastToSession delivers v to every viewer attached to the
	// given session.
	BroadcastToSession(localID int, v any)

	// AttachedViewers returns the viewers currently attached to the
	// given session.
	AttachedViewers(localID int) []Viewer
}

// Wire messages sent by the registry to viewers. History entries are
// sent as-is; everything else carries a distinguishing "type" field.

// ListMessage announces the full session list to all viewers.
type ListMessage struct {
	Type     string    `json:"type"` // "session_list"
	Sessions []Summary `json:"sessions"`
}

// SwitchedMessage tells a viewer it is now attached to a session.
type SwitchedMessage struct {
	Type       string `json:"type"` // "session_switched"
	ID         int    `json:"id"`
	ExternalID string `json:"externalSessionId,omitempty"`
}

// HistoryMetaMessage frames a replay: total entries and the index the
// page starts from.
type HistoryMetaMessage struct {
	Type  string `json:"type"` // "history_meta"
	Total int    `json:"total"`
	From  int    `json:"from"`
}

// HistoryDoneMessage terminates a replay.
type HistoryDoneMessage struct {
	Type string `json:"type"` // "history_done"
}

// StatusMessage reports the session's processing state.
type StatusMessage struct {
	Type   string `json:"type"` // "status"
	Status string `json:"status"`
}

// PermissionPendingMessage re-delivers a pending permission request to
// a newly attached viewer.
type PermissionPendingMessage struct {
	Type string `json:"type"` // "permission_request_pending"
	PermissionRequest
}

// AskUserPendingMessage re-delivers a pending ask-user prompt to a
// newly attached viewer.
type AskUserPendingMessage struct {
	Type string `json:"type"` // "ask_user_pending"
	AskUserPrompt
}
