// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the daemon's session engine: the registry
// of live sessions, durable-history recording, paginated replay for
// attaching viewers, and rewind to earlier turns.
//
// All mutable session state is owned by the Registry and guarded by a
// single mutex. Every history mutation goes through Registry.Record,
// which persists the entry before fanning it out to viewers, so the
// on-disk log is always the source of truth for replay.
package session

import (
	"encoding/json"
	"time"
)

// Session is one conversation with an agent process. All fields are
// owned by the Registry and must only be touched with the registry
// mutex held.
type Session struct {
	// LocalID is the process-lifetime unique id. Never reused, even
	// after deletion, so a stale viewer reference can never alias a
	// newer session.
	LocalID int

	// ExternalID is the stable id assigned by the agent process once
	// the first turn starts. Empty until then; the session log file is
	// created lazily when it becomes known.
	ExternalID string

	// Title is the user-visible session title.
	Title string

	// CreatedAt is when the session was created (or the persisted
	// creation time for resumed sessions).
	CreatedAt time.Time

	// LastActivity is updated on every recorded entry.
	LastActivity time.Time

	// Processing is true while a turn is in flight.
	Processing bool

	// History is the append-only event log. Entries are addressed by
	// index; rewind truncates by rewriting the durable log.
	History []HistoryEntry

	// Markers indexes message_uuid entries into History, in order.
	// Rewind targets are located here.
	Markers []Marker

	// LastRewindUUID is the target of the most recent rewind, persisted
	// in the log metadata. Empty if the session was never rewound.
	LastRewindUUID string

	// Handle is the running agent process/stream, nil when idle.
	// Transient, never persisted.
	Handle ProcessHandle

	// PendingPermissions holds permission requests awaiting a viewer
	// decision, keyed by request id. Re-delivered to late-attaching
	// viewers. Transient.
	PendingPermissions map[string]PermissionRequest

	// PendingAsks holds ask-user prompts awaiting an answer, keyed by
	// request id. Transient.
	PendingAsks map[string]AskUserPrompt

	// DeliveredToolResults tracks tool-use ids whose results were
	// already recorded, so duplicate agent events are dropped.
	// Transient.
	DeliveredToolResults map[string]bool
}

// Marker locates one message_uuid entry within a session's history.
type Marker struct {
	// UUID is the agent-assigned message uuid.
	UUID string

	// Role is "user" or "assistant".
	Role string

	// HistoryIndex is the entry's index in Session.History.
	HistoryIndex int
}

// ProcessHandle is the registry's view of an owned agent process. The
// registry only ever terminates it; driving the process is glue outside
// this package.
type ProcessHandle interface {
	// Close force-terminates the agent process and its stream.
	Close() error
}

// PermissionRequest is a pending tool permission request.
type PermissionRequest struct {
	RequestID      string          `json:"requestId"`
	ToolName       string          `json:"toolName"`
	ToolInput      json.RawMessage `json:"toolInput,omitempty"`
	ToolUseID      string          `json:"toolUseId,omitempty"`
	DecisionReason string          `json:"decisionReason,omitempty"`
}

// AskUserPrompt is a pending question from the agent to the user.
type AskUserPrompt struct {
	RequestID string `json:"requestId"`
	Question  string `json:"question"`
}

// MatchKind reports which part of a session matched a search query.
type MatchKind string

const (
	// MatchTitle means only the title matched.
	MatchTitle MatchKind = "title"
	// MatchContent means only message text matched.
	MatchContent MatchKind = "content"
	// MatchBoth means both title and message text matched.
	MatchBoth MatchKind = "both"
)

// Summary is the viewer-facing description of a session, used in
// session lists and search results.
type Summary struct {
	ID           int       `json:"id"`
	ExternalID   string    `json:"externalSessionId,omitempty"`
	Title        string    `json:"title"`
	Processing   bool      `json:"isProcessing"`
	LastActivity int64     `json:"lastActivity"`
	Match        MatchKind `json:"matchType,omitempty"`
}

// untitled is the display title for sessions that have none yet.
const untitled = "New Session"

// summary builds the viewer-facing description. Registry mutex held.
func (s *Session) summary() Summary {
	title := s.Title
	if title == "" {
		title = untitled
	}
	last := s.LastActivity
	if last.IsZero() {
		last = s.CreatedAt
	}
	return Summary{
		ID:           s.LocalID,
		ExternalID:   s.ExternalID,
		Title:        title,
		Processing:   s.Processing,
		LastActivity: last.UnixMilli(),
	}
}

// meta builds the durable log metadata line for this session.
func (s *Session) meta() Meta {
	return Meta{
		LocalID:        s.LocalID,
		ExternalID:     s.ExternalID,
		Title:          s.Title,
		CreatedAt:      s.CreatedAt.UnixMilli(),
		LastRewindUUID: s.LastRewindUUID,
	}
}
