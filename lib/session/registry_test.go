// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hallway-sh/hallway/lib/clock"
)

// --- Fakes ---

// memStore is an in-memory Store. It mirrors the durable-log contract
// closely enough for registry tests: appends create the file lazily,
// rewrites replace it wholesale.
type memStore struct {
	mu      sync.Mutex
	files   map[string]storedFile
	loaded  []LoadedSession
	loadErr error

	appendErr  error
	rewriteErr error
}

type storedFile struct {
	meta    Meta
	history []HistoryEntry
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]storedFile)}
}

func (m *memStore) Append(meta Meta, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	f := m.files[meta.ExternalID]
	f.meta = meta
	f.history = append(f.history, entry)
	m.files[meta.ExternalID] = f
	return nil
}

func (m *memStore) Rewrite(meta Meta, history []HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rewriteErr != nil {
		return m.rewriteErr
	}
	m.files[meta.ExternalID] = storedFile{meta: meta, history: append([]HistoryEntry(nil), history...)}
	return nil
}

func (m *memStore) Delete(externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, externalID)
	return nil
}

func (m *memStore) LoadAll() ([]LoadedSession, error) {
	return m.loaded, m.loadErr
}

func (m *memStore) file(t *testing.T, externalID string) storedFile {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[externalID]
	if !ok {
		t.Fatalf("no stored file for external id %q", externalID)
	}
	return f
}

// fakeViewer records everything sent to it.
type fakeViewer struct {
	mu       sync.Mutex
	session  int
	messages []any
}

func (v *fakeViewer) Send(msg any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

func (v *fakeViewer) Bind(localID int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.session = localID
}

func (v *fakeViewer) SessionID() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// take returns and clears the recorded messages.
func (v *fakeViewer) take() []any {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.messages
	v.messages = nil
	return out
}

// fakeHub fans out to registered fake viewers the way the websocket hub
// does: broadcast to all, session-scoped broadcast to attached only.
type fakeHub struct {
	mu      sync.Mutex
	viewers []*fakeViewer
}

func (h *fakeHub) add(v *fakeViewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers = append(h.viewers, v)
}

func (h *fakeHub) Broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.viewers {
		v.Send(msg)
	}
}

func (h *fakeHub) BroadcastToSession(localID int, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.viewers {
		if v.SessionID() == localID {
			v.Send(msg)
		}
	}
}

func (h *fakeHub) AttachedViewers(localID int) []Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Viewer
	for _, v := range h.viewers {
		if v.SessionID() == localID {
			out = append(out, v)
		}
	}
	return out
}

var testStart = time.Unix(1756700000, 0) // 2025-09-01T04:13:20Z

func testRegistry(t *testing.T) (*Registry, *memStore, *fakeHub, *clock.FakeClock) {
	t.Helper()
	store := newMemStore()
	hub := &fakeHub{}
	clk := clock.Fake(testStart)
	r := NewRegistry(store, hub, clk, slog.Default(), DefaultPageSize)
	if err := r.Load(); err != nil {
		t.Fatalf("loading empty registry: %v", err)
	}
	return r, store, hub, clk
}

// --- Lifecycle ---

func TestLoadEmptyCreatesDefaultSession(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 session after empty load, got %d", len(list))
	}
	if list[0].Title != "New Session" {
		t.Errorf("expected untitled placeholder, got %q", list[0].Title)
	}
	if r.DefaultID() != list[0].ID {
		t.Errorf("default id %d, want %d", r.DefaultID(), list[0].ID)
	}
}

func TestLoadResumesPersistedSessions(t *testing.T) {
	store := newMemStore()
	store.loaded = []LoadedSession{
		{
			Meta:    Meta{Type: MetaType, ExternalID: "ext-old", Title: "first", CreatedAt: testStart.UnixMilli()},
			History: []HistoryEntry{NewUserMessage("hello"), NewMessageUUID("u1", "user")},
			ModTime: testStart.Add(time.Minute).UnixMilli(),
		},
		{
			Meta:    Meta{Type: MetaType, ExternalID: "ext-new", Title: "second", CreatedAt: testStart.Add(time.Hour).UnixMilli()},
			History: []HistoryEntry{NewUserMessage("later")},
			ModTime: testStart.Add(2 * time.Hour).UnixMilli(),
		},
	}
	r := NewRegistry(store, &fakeHub{}, clock.Fake(testStart.Add(3*time.Hour)), slog.Default(), DefaultPageSize)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	// Local ids are assigned fresh in creation order.
	if list[0].Title != "first" || list[1].Title != "second" {
		t.Fatalf("unexpected ordering: %q then %q", list[0].Title, list[1].Title)
	}
	if list[0].ID >= list[1].ID {
		t.Errorf("local ids not monotonic: %d then %d", list[0].ID, list[1].ID)
	}
	// The most recently active session is default.
	if r.DefaultID() != list[1].ID {
		t.Errorf("default id %d, want most recent %d", r.DefaultID(), list[1].ID)
	}
}

func TestCreateBecomesDefaultAndBroadcastsList(t *testing.T) {
	r, _, hub, _ := testRegistry(t)
	v := &fakeViewer{}
	hub.add(v)

	sum := r.Create()
	if r.DefaultID() != sum.ID {
		t.Errorf("default id %d, want new session %d", r.DefaultID(), sum.ID)
	}

	msgs := v.take()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(msgs))
	}
	list, ok := msgs[0].(ListMessage)
	if !ok {
		t.Fatalf("expected ListMessage, got %T", msgs[0])
	}
	if len(list.Sessions) != 2 {
		t.Errorf("list has %d sessions, want 2", len(list.Sessions))
	}
}

func TestResumePersistsEmptyLogImmediately(t *testing.T) {
	r, store, _, _ := testRegistry(t)
	sum := r.Resume("ext-resume")
	if sum.Title != "Resumed session" {
		t.Errorf("title %q, want %q", sum.Title, "Resumed session")
	}
	f := store.file(t, "ext-resume")
	if len(f.history) != 0 {
		t.Errorf("resumed log has %d entries, want 0", len(f.history))
	}
	if f.meta.Title != "Resumed session" {
		t.Errorf("stored title %q", f.meta.Title)
	}
}

// --- Recording ---

func TestRecordAppendsPersistsAndBroadcasts(t *testing.T) {
	r, store, hub, clk := testRegistry(t)
	id := r.DefaultID()
	if err := r.BindExternal(id, "ext-1"); err != nil {
		t.Fatalf("bind external: %v", err)
	}

	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, id); err != nil {
		t.Fatalf("attach: %v", err)
	}
	v.take()

	clk.Advance(time.Second)
	if err := r.Record(id, NewUserMessage("hello")); err != nil {
		t.Fatalf("record: %v", err)
	}

	f := store.file(t, "ext-1")
	if len(f.history) != 1 {
		t.Fatalf("stored %d entries, want 1", len(f.history))
	}
	msgs := v.take()
	if len(msgs) != 1 {
		t.Fatalf("viewer got %d messages, want 1", len(msgs))
	}
	entry, ok := msgs[0].(HistoryEntry)
	if !ok || entry.Kind != KindUserMessage {
		t.Fatalf("viewer got %#v, want user_message entry", msgs[0])
	}

	list := r.List()
	if list[0].LastActivity != clk.Now().UnixMilli() {
		t.Errorf("last activity %d, want %d", list[0].LastActivity, clk.Now().UnixMilli())
	}
}

func TestRecordWithoutExternalIDSkipsPersistence(t *testing.T) {
	r, store, _, _ := testRegistry(t)
	id := r.DefaultID()
	if err := r.Record(id, NewUserMessage("ephemeral")); err != nil {
		t.Fatalf("record: %v", err)
	}
	store.mu.Lock()
	n := len(store.files)
	store.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no log files before external id is bound, got %d", n)
	}
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	r, store, _, _ := testRegistry(t)
	id := r.DefaultID()
	if err := r.BindExternal(id, "ext-1"); err != nil {
		t.Fatalf("bind external: %v", err)
	}
	store.appendErr = fmt.Errorf("disk full")

	if err := r.Record(id, NewUserMessage("kept in memory")); err != nil {
		t.Fatalf("record should swallow store errors, got %v", err)
	}

	// Replay still serves the in-memory entry.
	v := &fakeViewer{}
	if err := r.Replay(v, id, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}
	msgs := v.take()
	if len(msgs) != 3 { // meta, entry, done
		t.Fatalf("replay sent %d messages, want 3", len(msgs))
	}
}

func TestRecordMessageUUIDAddsMarker(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	if err := r.Record(id, NewUserMessage("hi")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.Record(id, NewMessageUUID("uuid-1", "user")); err != nil {
		t.Fatalf("record marker: %v", err)
	}

	r.mu.Lock()
	s := r.sessions[id]
	markers := append([]Marker(nil), s.Markers...)
	r.mu.Unlock()

	if len(markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(markers))
	}
	if markers[0].UUID != "uuid-1" || markers[0].HistoryIndex != 1 {
		t.Errorf("marker %+v, want uuid-1 at index 1", markers[0])
	}
}

// --- Attach handshake ---

func TestAttachHandshakeSequence(t *testing.T) {
	r, _, hub, _ := testRegistry(t)
	id := r.DefaultID()
	for i := 0; i < 3; i++ {
		if err := r.Record(id, NewUserMessage(fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := r.SetProcessing(id, true); err != nil {
		t.Fatalf("set processing: %v", err)
	}
	if err := r.AddPendingPermission(id, PermissionRequest{RequestID: "perm-1", ToolName: "bash"}); err != nil {
		t.Fatalf("add pending permission: %v", err)
	}

	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, id); err != nil {
		t.Fatalf("attach: %v", err)
	}

	msgs := v.take()
	// switched, history_meta, 3 entries, history_done, status, pending permission
	if len(msgs) != 8 {
		t.Fatalf("handshake sent %d messages, want 8: %#v", len(msgs), msgs)
	}
	if sw, ok := msgs[0].(SwitchedMessage); !ok || sw.ID != id {
		t.Fatalf("first message %#v, want session_switched for %d", msgs[0], id)
	}
	meta, ok := msgs[1].(HistoryMetaMessage)
	if !ok || meta.Total != 3 || meta.From != 0 {
		t.Fatalf("second message %#v, want history_meta total=3 from=0", msgs[1])
	}
	if _, ok := msgs[5].(HistoryDoneMessage); !ok {
		t.Fatalf("message 5 is %#v, want history_done", msgs[5])
	}
	if st, ok := msgs[6].(StatusMessage); !ok || st.Status != "processing" {
		t.Fatalf("message 6 is %#v, want processing status", msgs[6])
	}
	if pp, ok := msgs[7].(PermissionPendingMessage); !ok || pp.RequestID != "perm-1" {
		t.Fatalf("message 7 is %#v, want pending permission perm-1", msgs[7])
	}
	if v.SessionID() != id {
		t.Errorf("viewer bound to %d, want %d", v.SessionID(), id)
	}
}

// Attach runs under the same mutex as Record, so a viewer attaching
// while entries stream in sees every entry exactly once: each entry is
// either in the replay snapshot or delivered live, never both, never
// neither.
func TestAttachDuringConcurrentRecordLosesNothing(t *testing.T) {
	r, _, hub, _ := testRegistry(t)
	id := r.DefaultID()

	const total = 500
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if err := r.Record(id, NewDelta(fmt.Sprintf("%d", i))); err != nil {
				t.Errorf("record: %v", err)
				return
			}
		}
	}()

	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, id); err != nil {
		t.Fatalf("attach: %v", err)
	}
	<-done

	// Count deltas across the replay page and subsequent live delivery.
	// Everything after the replay snapshot arrives live; the combined
	// stream must be a contiguous suffix with no gap or duplicate at the
	// splice point.
	var texts []string
	for _, msg := range v.take() {
		if entry, ok := msg.(HistoryEntry); ok && entry.Kind == KindDelta {
			texts = append(texts, entry.Delta.Text)
		}
	}
	if len(texts) == 0 {
		t.Fatal("viewer received no entries")
	}
	var first int
	if _, err := fmt.Sscanf(texts[0], "%d", &first); err != nil {
		t.Fatalf("parsing first delta %q: %v", texts[0], err)
	}
	for i, text := range texts {
		want := fmt.Sprintf("%d", first+i)
		if text != want {
			t.Fatalf("entry %d is %q, want %q (gap or duplicate)", i, text, want)
		}
	}
	if last := texts[len(texts)-1]; last != fmt.Sprintf("%d", total-1) {
		t.Errorf("last delta %q, want %d", last, total-1)
	}
}

// --- Deletion ---

func TestDeleteFallsBackToMostRecentSurvivor(t *testing.T) {
	r, store, hub, _ := testRegistry(t)
	first := r.DefaultID()
	second := r.Create().ID
	if err := r.BindExternal(second, "ext-2"); err != nil {
		t.Fatalf("bind external: %v", err)
	}
	if err := r.Record(second, NewUserMessage("doomed")); err != nil {
		t.Fatalf("record: %v", err)
	}

	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, second); err != nil {
		t.Fatalf("attach: %v", err)
	}
	v.take()

	if err := r.Delete(second); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The log file is gone.
	store.mu.Lock()
	_, exists := store.files["ext-2"]
	store.mu.Unlock()
	if exists {
		t.Error("deleted session's log file still present")
	}

	// The displaced viewer was switched to the survivor with a full
	// handshake.
	if v.SessionID() != first {
		t.Errorf("viewer on %d, want fallback %d", v.SessionID(), first)
	}
	msgs := v.take()
	if len(msgs) == 0 {
		t.Fatal("displaced viewer got no handshake")
	}
	if sw, ok := msgs[0].(SwitchedMessage); !ok || sw.ID != first {
		t.Fatalf("first message %#v, want session_switched to %d", msgs[0], first)
	}
	if r.DefaultID() != first {
		t.Errorf("default %d, want %d", r.DefaultID(), first)
	}
}

func TestDeleteLastSessionCreatesReplacement(t *testing.T) {
	r, _, hub, _ := testRegistry(t)
	only := r.DefaultID()

	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, only); err != nil {
		t.Fatalf("attach: %v", err)
	}
	v.take()

	if err := r.Delete(only); err != nil {
		t.Fatalf("delete: %v", err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 replacement session, got %d", len(list))
	}
	if list[0].ID == only {
		t.Error("local id reused after deletion")
	}
	if v.SessionID() != list[0].ID {
		t.Errorf("viewer on %d, want replacement %d", v.SessionID(), list[0].ID)
	}
	if r.DefaultID() != list[0].ID {
		t.Errorf("default %d, want replacement %d", r.DefaultID(), list[0].ID)
	}
}

func TestDeleteClosesAgentHandle(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	handle := &fakeHandle{}
	if err := r.SetHandle(id, handle); err != nil {
		t.Fatalf("set handle: %v", err)
	}
	r.Create() // survivor, so no replacement is made
	if err := r.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !handle.closed {
		t.Error("agent handle not closed on delete")
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	if err := r.Delete(999); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

type fakeHandle struct{ closed bool }

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

// --- Status and titles ---

func TestSetProcessingBroadcastsOnChangeOnly(t *testing.T) {
	r, _, hub, _ := testRegistry(t)
	id := r.DefaultID()
	v := &fakeViewer{}
	hub.add(v)
	if err := r.Attach(v, id); err != nil {
		t.Fatalf("attach: %v", err)
	}
	v.take()

	if err := r.SetProcessing(id, true); err != nil {
		t.Fatalf("set processing: %v", err)
	}
	msgs := v.take()
	if len(msgs) != 2 { // status + session_list
		t.Fatalf("got %d messages, want status and list", len(msgs))
	}
	if st, ok := msgs[0].(StatusMessage); !ok || st.Status != "processing" {
		t.Fatalf("first message %#v, want processing status", msgs[0])
	}

	// Same value again: no traffic.
	if err := r.SetProcessing(id, true); err != nil {
		t.Fatalf("set processing again: %v", err)
	}
	if msgs := v.take(); len(msgs) != 0 {
		t.Fatalf("redundant SetProcessing sent %d messages", len(msgs))
	}
}

func TestSetTitleIfEmptyOnlySetsOnce(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	r.SetTitleIfEmpty(id, "first message")
	r.SetTitleIfEmpty(id, "second message")
	list := r.List()
	if list[0].Title != "first message" {
		t.Errorf("title %q, want %q", list[0].Title, "first message")
	}
}

func TestSetTitleRewritesLog(t *testing.T) {
	r, store, _, _ := testRegistry(t)
	id := r.DefaultID()
	if err := r.BindExternal(id, "ext-1"); err != nil {
		t.Fatalf("bind external: %v", err)
	}
	if err := r.SetTitle(id, "renamed"); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if f := store.file(t, "ext-1"); f.meta.Title != "renamed" {
		t.Errorf("stored title %q, want %q", f.meta.Title, "renamed")
	}
}

// --- Search ---

func TestSearch(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	if err := r.SetTitle(id, "Deploy pipeline"); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if err := r.Record(id, NewUserMessage("fix the deploy script")); err != nil {
		t.Fatalf("record: %v", err)
	}

	other := r.Create().ID
	if err := r.Record(other, NewDelta("unrelated assistant text")); err != nil {
		t.Fatalf("record: %v", err)
	}

	tests := []struct {
		query string
		want  int
		match MatchKind
	}{
		{"deploy", 1, MatchBoth},
		{"DEPLOY", 1, MatchBoth},
		{"pipeline", 1, MatchTitle},
		{"script", 1, MatchContent},
		{"unrelated", 1, MatchContent},
		{"absent", 0, ""},
		{"", 0, ""},
	}
	for _, tc := range tests {
		results := r.Search(tc.query)
		if len(results) != tc.want {
			t.Errorf("query %q: %d results, want %d", tc.query, len(results), tc.want)
			continue
		}
		if tc.want > 0 && results[0].Match != tc.match {
			t.Errorf("query %q: match %q, want %q", tc.query, results[0].Match, tc.match)
		}
	}
}

// --- Pending prompts and tool results ---

func TestResolvePermission(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	req := PermissionRequest{RequestID: "perm-1", ToolName: "bash"}
	if err := r.AddPendingPermission(id, req); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, ok := r.ResolvePermission(id, "perm-1")
	if !ok || got.ToolName != "bash" {
		t.Fatalf("resolve returned %+v %v, want bash request", got, ok)
	}
	if _, ok := r.ResolvePermission(id, "perm-1"); ok {
		t.Error("second resolve of same request succeeded")
	}
}

func TestToolResultDeliveredDropsDuplicates(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	id := r.DefaultID()
	if !r.ToolResultDelivered(id, "tool-1") {
		t.Fatal("first delivery rejected")
	}
	if r.ToolResultDelivered(id, "tool-1") {
		t.Fatal("duplicate delivery accepted")
	}
	if !r.ToolResultDelivered(id, "tool-2") {
		t.Fatal("distinct tool use id rejected")
	}
}
