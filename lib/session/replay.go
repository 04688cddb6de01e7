// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

// DefaultPageSize is the replay page size: the maximum number of
// history entries sent to an attaching viewer before turn-boundary
// snapping adjusts the start.
const DefaultPageSize = 200

// replayLocked sends the catch-up slice of s.History through send,
// framed by history_meta and history_done. Registry mutex held.
//
// With no explicit starting index, full history is sent when it fits
// in one page; otherwise the start snaps backward from total-pageSize
// to the nearest preceding turn start (the user-message entry itself
// is included), or 0 when no turn start precedes it. Replay never
// mutates history and is safe to repeat.
func (r *Registry) replayLocked(s *Session, from *int, send func(any)) {
	total := len(s.History)

	start := 0
	switch {
	case from != nil:
		start = *from
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
	case total > r.pageSize:
		start = turnBoundary(s.History, total-r.pageSize)
	}

	send(HistoryMetaMessage{Type: "history_meta", Total: total, From: start})
	for i := start; i < total; i++ {
		send(s.History[i])
	}
	send(HistoryDoneMessage{Type: "history_done"})
}

// turnBoundary returns the index of the nearest turn-start entry at or
// before target, or 0 when none precedes it.
func turnBoundary(history []HistoryEntry, target int) int {
	if target >= len(history) {
		target = len(history) - 1
	}
	for i := target; i >= 0; i-- {
		if history[i].TurnStart() {
			return i
		}
	}
	return 0
}
