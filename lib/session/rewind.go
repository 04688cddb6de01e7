// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/hallway-sh/hallway/lib/vcs"
)

// RewindMode selects what a rewind restores.
type RewindMode string

const (
	// RewindChat truncates conversation history only.
	RewindChat RewindMode = "chat"
	// RewindFiles restores working-tree file state only.
	RewindFiles RewindMode = "files"
	// RewindBoth does both.
	RewindBoth RewindMode = "both"
)

// RewindPreview describes what executing a rewind would change.
type RewindPreview struct {
	UUID         string `json:"uuid"`
	FilesChanged int    `json:"filesChanged"`
	Insertions   int    `json:"insertions"`
	Deletions    int    `json:"deletions"`
	Diff         string `json:"diff,omitempty"`
}

// PreviewRewind validates a rewind target and returns the filesystem
// changes that executing it would undo. The preview mutates nothing;
// the previewed target is held by the requesting viewer, which sends
// it back in the execute request. Rejected with ErrProcessing while a
// turn is in flight and ErrNoRewindPoint for unknown uuids.
func (r *Registry) PreviewRewind(ctx context.Context, localID int, uuid string, differ vcs.Differ) (RewindPreview, error) {
	r.mu.Lock()
	s, ok := r.sessions[localID]
	if !ok {
		r.mu.Unlock()
		return RewindPreview{}, ErrSessionNotFound
	}
	if s.Processing {
		r.mu.Unlock()
		return RewindPreview{}, ErrProcessing
	}
	if _, ok := findMarker(s.Markers, uuid); !ok {
		r.mu.Unlock()
		return RewindPreview{}, ErrNoRewindPoint
	}
	r.mu.Unlock()

	// The diff is computed outside the registry mutex: it shells out
	// to the version-control collaborator and must not block unrelated
	// sessions.
	summary, err := differ.DiffSince(ctx, uuid)
	if err != nil {
		return RewindPreview{}, fmt.Errorf("computing rewind diff: %w", err)
	}
	return RewindPreview{
		UUID:         uuid,
		FilesChanged: summary.FilesChanged,
		Insertions:   summary.Insertions,
		Deletions:    summary.Deletions,
		Diff:         summary.Diff,
	}, nil
}

// ExecuteRewind rewinds the session to the turn containing the target
// uuid. Chat modes destructively truncate history (a log rewrite, not
// a tombstone), drop trailing markers, and replay the truncated state
// to attached viewers. File modes restore the working tree through the
// version-control collaborator. Subject to the same rejections as
// PreviewRewind.
func (r *Registry) ExecuteRewind(ctx context.Context, localID int, uuid string, mode RewindMode, differ vcs.Differ) error {
	switch mode {
	case RewindChat, RewindFiles, RewindBoth:
	default:
		return fmt.Errorf("invalid rewind mode %q", mode)
	}

	r.mu.Lock()
	s, ok := r.sessions[localID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.Processing {
		r.mu.Unlock()
		return ErrProcessing
	}
	marker, ok := findMarker(s.Markers, uuid)
	if !ok {
		r.mu.Unlock()
		return ErrNoRewindPoint
	}

	if mode == RewindChat || mode == RewindBoth {
		r.truncateLocked(s, marker, uuid)
	}
	r.mu.Unlock()

	if mode == RewindFiles || mode == RewindBoth {
		if err := differ.RestoreFiles(ctx, uuid); err != nil {
			return fmt.Errorf("restoring files: %w", err)
		}
	}
	return nil
}

// truncateLocked cuts history to just before the target marker and
// persists the result. The rewind point is carried in the log metadata
// (lastRewindUuid), so the truncated history itself stays exactly the
// pre-target prefix. Viewers get a live rewind event (not recorded)
// followed by a replay of the truncated state.
func (r *Registry) truncateLocked(s *Session, marker Marker, uuid string) {
	cut := marker.HistoryIndex
	s.History = s.History[:cut]

	kept := s.Markers[:0]
	for _, m := range s.Markers {
		if m.HistoryIndex < cut {
			kept = append(kept, m)
		}
	}
	s.Markers = kept
	s.LastRewindUUID = uuid
	s.LastActivity = r.clock.Now()

	if s.ExternalID != "" {
		if err := r.store.Rewrite(s.meta(), s.History); err != nil {
			r.logger.Error("rewriting session log after rewind",
				"externalId", s.ExternalID, "error", err)
		}
	}

	r.viewers.BroadcastToSession(s.LocalID, NewRewind(uuid))

	// Attached viewers re-sync from the truncated history.
	for _, v := range r.viewers.AttachedViewers(s.LocalID) {
		r.replayLocked(s, nil, v.Send)
	}
}

func findMarker(markers []Marker, uuid string) (Marker, bool) {
	for _, m := range markers {
		if m.UUID == uuid {
			return m, true
		}
	}
	return Marker{}, false
}
