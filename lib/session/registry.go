// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hallway-sh/hallway/lib/clock"
)

// Sentinel errors for precondition violations. These are reported to
// the requesting viewer as structured rejections; no session state is
// mutated when they occur.
var (
	// ErrSessionNotFound is returned for operations on unknown local ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProcessing is returned for rewind operations while a turn is
	// in flight.
	ErrProcessing = errors.New("cannot rewind while processing")

	// ErrNoRewindPoint is returned when a rewind target uuid is not a
	// known message marker.
	ErrNoRewindPoint = errors.New("no rewind point")
)

// Registry owns every live session. All mutations of session state go
// through its methods and are serialized by one mutex, so no two
// mutations of the same session's history can interleave and the
// record-then-broadcast order is total per session.
//
// Viewer attachment is performed under the same mutex as recording,
// which is what makes the catch-up handshake gap-free: no entry can be
// committed between the replay snapshot and the live subscription.
type Registry struct {
	mu          sync.Mutex
	sessions    map[int]*Session
	nextLocalID int
	defaultID   int

	store    Store
	viewers  ViewerRegistry
	clock    clock.Clock
	logger   *slog.Logger
	pageSize int
}

// NewRegistry creates an empty registry. Call Load to resume persisted
// sessions; if none exist a fresh session is created and made default.
func NewRegistry(store Store, viewers ViewerRegistry, clk clock.Clock, logger *slog.Logger, pageSize int) *Registry {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Registry{
		sessions:    make(map[int]*Session),
		nextLocalID: 1,
		store:       store,
		viewers:     viewers,
		clock:       clk,
		logger:      logger,
		pageSize:    pageSize,
	}
}

// Load resumes all persisted sessions from disk. Sessions are assigned
// fresh local ids in creation order; the one with the most recent
// activity becomes default. When nothing is on disk, one empty session
// is created and made default.
func (r *Registry) Load() error {
	loaded, err := r.store.LoadAll()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range loaded {
		s := r.newSessionLocked()
		s.ExternalID = rec.Meta.ExternalID
		s.Title = rec.Meta.Title
		s.CreatedAt = fromUnixMilli(rec.Meta.CreatedAt, r.clock.Now())
		s.LastRewindUUID = rec.Meta.LastRewindUUID
		s.History = rec.History
		s.Markers = rebuildMarkers(rec.History)
		if rec.ModTime > 0 {
			s.LastActivity = fromUnixMilli(rec.ModTime, s.CreatedAt)
		} else {
			s.LastActivity = s.CreatedAt
		}
		r.logger.Info("resumed session",
			"localId", s.LocalID,
			"externalId", s.ExternalID,
			"entries", len(s.History),
		)
	}

	if len(r.sessions) == 0 {
		s := r.newSessionLocked()
		r.defaultID = s.LocalID
		return nil
	}

	// Default is the most recently active session.
	var mostRecent *Session
	for _, s := range r.sessions {
		if mostRecent == nil || s.LastActivity.After(mostRecent.LastActivity) {
			mostRecent = s
		}
	}
	r.defaultID = mostRecent.LocalID
	return nil
}

// Create allocates a fresh empty session, makes it default, and
// announces the updated session list. The log file is created lazily
// once the session has an external id and its first recorded event.
func (r *Registry) Create() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.newSessionLocked()
	r.defaultID = s.LocalID
	r.broadcastListLocked()
	return s.summary()
}

// Resume creates a new local session pre-bound to an existing external
// session id, persists an empty log immediately, and makes it default.
// Used when reattaching to an agent-side session not tracked locally.
func (r *Registry) Resume(externalID string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.newSessionLocked()
	s.ExternalID = externalID
	s.Title = "Resumed session"
	if err := r.store.Rewrite(s.meta(), nil); err != nil {
		r.logger.Error("persisting resumed session", "externalId", externalID, "error", err)
	}
	r.defaultID = s.LocalID
	r.broadcastListLocked()
	return s.summary()
}

// Delete terminates the session's agent process, removes its log file,
// and drops it from the registry. Every viewer attached to it is
// re-attached (with a full catch-up handshake) to the most recently
// created surviving session, or to a single brand-new session when
// none survive. The default pointer follows the same fallback.
func (r *Registry) Delete(localID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}

	if s.Handle != nil {
		if err := s.Handle.Close(); err != nil {
			r.logger.Warn("closing agent process", "localId", localID, "error", err)
		}
		s.Handle = nil
	}
	if s.ExternalID != "" {
		if err := r.store.Delete(s.ExternalID); err != nil {
			r.logger.Warn("deleting session log", "externalId", s.ExternalID, "error", err)
		}
	}
	delete(r.sessions, localID)

	// Fallback is the most recently created survivor. Local ids are
	// monotonic, so that is the highest remaining id.
	var fallback *Session
	for _, remaining := range r.sessions {
		if fallback == nil || remaining.LocalID > fallback.LocalID {
			fallback = remaining
		}
	}

	displaced := r.viewers.AttachedViewers(localID)
	if fallback == nil && len(displaced) > 0 {
		fallback = r.newSessionLocked()
	}
	for _, v := range displaced {
		r.switchLocked(v, fallback)
	}

	if r.defaultID == localID {
		if fallback == nil {
			fallback = r.newSessionLocked()
		}
		r.defaultID = fallback.LocalID
	}

	r.logger.Info("deleted session", "localId", localID)
	r.broadcastListLocked()
	return nil
}

// Record appends an entry to the session's history, persists it, and
// fans it out to the session's viewers, in that order. This is the
// only path by which history grows. Persistence failures are logged
// and swallowed: the in-memory copy stays authoritative.
func (r *Registry) Record(localID int, entry HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	r.recordLocked(s, entry)
	return nil
}

func (r *Registry) recordLocked(s *Session, entry HistoryEntry) {
	if entry.Kind == KindMessageUUID {
		s.Markers = append(s.Markers, Marker{
			UUID:         entry.MessageUUID.UUID,
			Role:         entry.MessageUUID.Role,
			HistoryIndex: len(s.History),
		})
	}
	s.History = append(s.History, entry)
	s.LastActivity = r.clock.Now()

	// Lazy file creation: nothing is written until the agent has
	// assigned an external session id.
	if s.ExternalID != "" {
		if err := r.store.Append(s.meta(), entry); err != nil {
			r.logger.Error("appending to session log",
				"externalId", s.ExternalID, "error", err)
		}
	}

	r.viewers.BroadcastToSession(s.LocalID, entry)
}

// Attach binds a viewer to a session and runs the catch-up handshake:
// session_switched, bounded history replay, current processing status,
// and re-delivery of pending prompts. Atomic with respect to Record.
func (r *Registry) Attach(v Viewer, localID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	r.switchLocked(v, s)
	return nil
}

// AttachDefault binds a viewer to the current default session.
func (r *Registry) AttachDefault(v Viewer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[r.defaultID]
	if s == nil {
		s = r.newSessionLocked()
		r.defaultID = s.LocalID
	}
	r.switchLocked(v, s)
}

func (r *Registry) switchLocked(v Viewer, s *Session) {
	v.Bind(s.LocalID)
	v.Send(SwitchedMessage{Type: "session_switched", ID: s.LocalID, ExternalID: s.ExternalID})
	r.replayLocked(s, nil, v.Send)

	if s.Processing {
		v.Send(StatusMessage{Type: "status", Status: "processing"})
	}

	// Pending prompts are re-delivered individually, in a stable order.
	for _, id := range sortedKeys(s.PendingPermissions) {
		v.Send(PermissionPendingMessage{Type: "permission_request_pending", PermissionRequest: s.PendingPermissions[id]})
	}
	for _, id := range sortedKeys(s.PendingAsks) {
		v.Send(AskUserPendingMessage{Type: "ask_user_pending", AskUserPrompt: s.PendingAsks[id]})
	}
}

// Replay re-runs the catch-up replay for an already-attached viewer,
// optionally from an explicit starting index. Pure read; idempotent.
func (r *Registry) Replay(v Viewer, localID int, from *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	r.replayLocked(s, from, v.Send)
	return nil
}

// SetProcessing flips the session's processing flag. The session list
// is re-broadcast on every change (processing state is part of it), and
// attached viewers get an explicit status event.
func (r *Registry) SetProcessing(localID int, processing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Processing == processing {
		return nil
	}
	s.Processing = processing
	status := "idle"
	if processing {
		status = "processing"
	}
	r.viewers.BroadcastToSession(localID, StatusMessage{Type: "status", Status: status})
	r.broadcastListLocked()
	return nil
}

// SetTitle updates the session title and rewrites the log metadata.
func (r *Registry) SetTitle(localID int, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Title = title
	if s.ExternalID != "" {
		if err := r.store.Rewrite(s.meta(), s.History); err != nil {
			r.logger.Error("rewriting session log", "externalId", s.ExternalID, "error", err)
		}
	}
	r.broadcastListLocked()
	return nil
}

// BindExternal records the agent-assigned external session id. The
// session's log file is created at this point with any history
// recorded so far.
func (r *Registry) BindExternal(localID int, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.ExternalID == externalID {
		return nil
	}
	s.ExternalID = externalID
	if err := r.store.Rewrite(s.meta(), s.History); err != nil {
		r.logger.Error("creating session log", "externalId", externalID, "error", err)
	}
	r.broadcastListLocked()
	return nil
}

// SetTitleIfEmpty sets the title only when the session has none yet.
// Used to derive a title from the first user message.
func (r *Registry) SetTitleIfEmpty(localID int, title string) {
	r.mu.Lock()
	s, ok := r.sessions[localID]
	empty := ok && s.Title == ""
	r.mu.Unlock()
	if empty {
		_ = r.SetTitle(localID, title)
	}
}

// ExternalID returns the session's agent-assigned external id, empty
// when not yet bound.
func (r *Registry) ExternalID(localID int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return s.ExternalID, nil
}

// SetHandle installs (or clears) the session's agent process handle.
func (r *Registry) SetHandle(localID int, h ProcessHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Handle = h
	return nil
}

// List returns summaries of all sessions ordered by local id.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

// DefaultID returns the current default session's local id.
func (r *Registry) DefaultID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultID
}

// Search returns sessions whose title or message text contains the
// query, case-insensitively. An empty query yields no results.
func (r *Registry) Search(query string) []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if query == "" {
		return nil
	}
	q := strings.ToLower(query)

	var results []Summary
	for _, id := range r.sortedIDsLocked() {
		s := r.sessions[id]
		title := s.Title
		if title == "" {
			title = untitled
		}
		titleMatch := strings.Contains(strings.ToLower(title), q)
		contentMatch := false
		for _, entry := range s.History {
			if text := entry.Text(); text != "" && strings.Contains(strings.ToLower(text), q) {
				contentMatch = true
				break
			}
		}
		if !titleMatch && !contentMatch {
			continue
		}
		sum := s.summary()
		switch {
		case titleMatch && contentMatch:
			sum.Match = MatchBoth
		case titleMatch:
			sum.Match = MatchTitle
		default:
			sum.Match = MatchContent
		}
		results = append(results, sum)
	}
	return results
}

// AddPendingPermission records a permission request awaiting a viewer
// decision and forwards it to the session's viewers.
func (r *Registry) AddPendingPermission(localID int, req PermissionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	s.PendingPermissions[req.RequestID] = req
	r.viewers.BroadcastToSession(localID, PermissionPendingMessage{Type: "permission_request_pending", PermissionRequest: req})
	return nil
}

// ResolvePermission drops a pending permission request. Returns it and
// true when it was pending.
func (r *Registry) ResolvePermission(localID int, requestID string) (PermissionRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return PermissionRequest{}, false
	}
	req, ok := s.PendingPermissions[requestID]
	if ok {
		delete(s.PendingPermissions, requestID)
	}
	return req, ok
}

// AddPendingAsk records an ask-user prompt and forwards it to viewers.
func (r *Registry) AddPendingAsk(localID int, prompt AskUserPrompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return ErrSessionNotFound
	}
	s.PendingAsks[prompt.RequestID] = prompt
	r.viewers.BroadcastToSession(localID, AskUserPendingMessage{Type: "ask_user_pending", AskUserPrompt: prompt})
	return nil
}

// ResolveAsk drops a pending ask-user prompt.
func (r *Registry) ResolveAsk(localID int, requestID string) (AskUserPrompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return AskUserPrompt{}, false
	}
	prompt, ok := s.PendingAsks[requestID]
	if ok {
		delete(s.PendingAsks, requestID)
	}
	return prompt, ok
}

// ToolResultDelivered marks a tool-use id as delivered. Returns false
// when it was already delivered, so callers drop the duplicate event.
func (r *Registry) ToolResultDelivered(localID int, toolUseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[localID]
	if !ok {
		return false
	}
	if s.DeliveredToolResults[toolUseID] {
		return false
	}
	s.DeliveredToolResults[toolUseID] = true
	return true
}

// newSessionLocked allocates a session with a fresh local id.
func (r *Registry) newSessionLocked() *Session {
	now := r.clock.Now()
	s := &Session{
		LocalID:              r.nextLocalID,
		CreatedAt:            now,
		LastActivity:         now,
		PendingPermissions:   make(map[string]PermissionRequest),
		PendingAsks:          make(map[string]AskUserPrompt),
		DeliveredToolResults: make(map[string]bool),
	}
	r.nextLocalID++
	r.sessions[s.LocalID] = s
	return s
}

func (r *Registry) listLocked() []Summary {
	out := make([]Summary, 0, len(r.sessions))
	for _, id := range r.sortedIDsLocked() {
		out = append(out, r.sessions[id].summary())
	}
	return out
}

func (r *Registry) sortedIDsLocked() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// broadcastListLocked announces the session list to every viewer,
// attached or not. The list is global state.
func (r *Registry) broadcastListLocked() {
	r.viewers.Broadcast(ListMessage{Type: "session_list", Sessions: r.listLocked()})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fromUnixMilli converts persisted millisecond timestamps, falling
// back when the field is absent or zero.
func fromUnixMilli(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}

// rebuildMarkers reconstructs the message-uuid index from loaded
// history. Entries already passed Validate in the store.
func rebuildMarkers(history []HistoryEntry) []Marker {
	var markers []Marker
	for i, entry := range history {
		if entry.Kind == KindMessageUUID {
			markers = append(markers, Marker{
				UUID:         entry.MessageUUID.UUID,
				Role:         entry.MessageUUID.Role,
				HistoryIndex: i,
			})
		}
	}
	return markers
}
