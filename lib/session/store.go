// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Meta is the first line of every session log file, identifying the
// session the entries belong to. Times are unix milliseconds to keep
// the on-disk format stable across hosts and timezones.
type Meta struct {
	Type           string `json:"type"`
	LocalID        int    `json:"localId"`
	ExternalID     string `json:"externalSessionId"`
	Title          string `json:"title"`
	CreatedAt      int64  `json:"createdAt"`
	LastRewindUUID string `json:"lastRewindUuid,omitempty"`
}

// MetaType is the required value of Meta.Type.
const MetaType = "meta"

// LoadedSession is one session reconstructed from disk by the store.
type LoadedSession struct {
	// Meta is the parsed metadata line.
	Meta Meta

	// History is every entry line that parsed and validated. Corrupt
	// lines are skipped by the loader, not surfaced here.
	History []HistoryEntry

	// ModTime is the log file's modification time in unix milliseconds,
	// used as the session's last activity. Zero when unavailable.
	ModTime int64
}

// Store is the durable log backing the registry. Implemented by
// lib/sessionlog; faked in tests.
//
// Append and Rewrite failures are logged and swallowed by the registry:
// the in-memory history stays authoritative for the process lifetime
// and durability is best-effort across restarts.
type Store interface {
	// Append writes one entry line to the session's log, creating the
	// file with its metadata line first if it does not exist yet.
	Append(meta Meta, entry HistoryEntry) error

	// Rewrite atomically replaces the session's log with the metadata
	// line plus the given history. Used for title changes, rewind
	// markers in metadata, and rewind truncation.
	Rewrite(meta Meta, history []HistoryEntry) error

	// Delete removes the session's log file. Missing files are not an
	// error.
	Delete(externalID string) error

	// LoadAll scans the log directory and returns every parseable
	// session, ordered by metadata creation time. Files whose metadata
	// line fails to parse are skipped entirely.
	LoadAll() ([]LoadedSession, error)
}
