// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package sessionlog

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hallway-sh/hallway/lib/session"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "sessions"), slog.Default())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func testMeta(externalID string) session.Meta {
	return session.Meta{
		LocalID:    1,
		ExternalID: externalID,
		Title:      "test session",
		CreatedAt:  1756700000000,
	}
}

// readLines returns the raw lines of a session log file.
func readLines(t *testing.T, store *Store, externalID string) []string {
	t.Helper()
	data, err := os.ReadFile(store.path(externalID))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestAppendCreatesFileWithMetaFirst(t *testing.T) {
	store := testStore(t)
	meta := testMeta("ext-1")

	if err := store.Append(meta, session.NewUserMessage("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(meta, session.NewDelta("world")); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines := readLines(t, store, "ext-1")
	if len(lines) != 3 {
		t.Fatalf("log has %d lines, want meta plus 2 entries", len(lines))
	}
	if !strings.Contains(lines[0], `"type":"meta"`) {
		t.Errorf("first line is not metadata: %s", lines[0])
	}
	// The metadata line is written once, on creation only.
	for _, line := range lines[1:] {
		if strings.Contains(line, `"type":"meta"`) {
			t.Errorf("duplicate metadata line: %s", line)
		}
	}
}

func TestAppendDoesNotEscapeHTML(t *testing.T) {
	store := testStore(t)
	if err := store.Append(testMeta("ext-1"), session.NewDelta("a < b && c > d")); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines := readLines(t, store, "ext-1")
	if !strings.Contains(lines[1], "a < b && c > d") {
		t.Errorf("entry text was escaped: %s", lines[1])
	}
}

func TestAppendThenLoadRoundTrip(t *testing.T) {
	store := testStore(t)
	meta := testMeta("ext-1")
	entries := []session.HistoryEntry{
		session.NewUserMessage("question"),
		session.NewMessageUUID("u1", "user"),
		session.NewToolCall("t1", "bash", []byte(`{"command":"ls"}`)),
		session.NewToolResult("t1", "file.txt", false),
		session.NewDelta("answer"),
		session.NewMessageUUID("a1", "assistant"),
	}
	for _, e := range entries {
		if err := store.Append(meta, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d sessions, want 1", len(loaded))
	}
	got := loaded[0]
	if got.Meta.ExternalID != "ext-1" || got.Meta.Title != "test session" {
		t.Fatalf("meta %+v", got.Meta)
	}
	if len(got.History) != len(entries) {
		t.Fatalf("loaded %d entries, want %d", len(got.History), len(entries))
	}
	for i, e := range got.History {
		if e.Kind != entries[i].Kind {
			t.Errorf("entry %d kind %q, want %q", i, e.Kind, entries[i].Kind)
		}
	}
	if got.History[2].ToolCall.Name != "bash" {
		t.Errorf("tool call name %q", got.History[2].ToolCall.Name)
	}
	if got.ModTime == 0 {
		t.Error("mod time not populated")
	}
}

func TestRewriteReplacesFile(t *testing.T) {
	store := testStore(t)
	meta := testMeta("ext-1")
	for i := 0; i < 5; i++ {
		if err := store.Append(meta, session.NewDelta("old")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	meta.Title = "renamed"
	meta.LastRewindUUID = "u1"
	if err := store.Rewrite(meta, []session.HistoryEntry{session.NewUserMessage("only")}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || len(loaded[0].History) != 1 {
		t.Fatalf("loaded %+v, want one session with one entry", loaded)
	}
	if loaded[0].Meta.Title != "renamed" || loaded[0].Meta.LastRewindUUID != "u1" {
		t.Fatalf("rewritten meta %+v", loaded[0].Meta)
	}
	// No temp file left behind.
	if _, err := os.Stat(store.path("ext-1") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left after rewrite")
	}
}

func TestRewriteEmptyHistory(t *testing.T) {
	store := testStore(t)
	if err := store.Rewrite(testMeta("ext-resume"), nil); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || len(loaded[0].History) != 0 {
		t.Fatalf("loaded %+v, want one empty session", loaded)
	}
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	if err := store.Append(testMeta("ext-1"), session.NewDelta("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Delete("ext-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(store.path("ext-1")); !os.IsNotExist(err) {
		t.Error("log file survives delete")
	}
	// Deleting again is not an error.
	if err := store.Delete("ext-1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestLoadAllSkipsCorruptLines(t *testing.T) {
	store := testStore(t)
	content := strings.Join([]string{
		`{"type":"meta","localId":1,"externalSessionId":"ext-1","title":"t","createdAt":1756700000000}`,
		`{"type":"user_message","text":"good"}`,
		`{not json`,
		`{"type":"delta"}`,           // missing text loads as an empty delta
		`{"type":"wormhole","x":{}}`, // unknown kind, fails Validate
		``,                           // blank lines are skipped silently
		`{"type":"delta","text":"also good"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(store.path("ext-1"), []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d sessions, want 1", len(loaded))
	}
	history := loaded[0].History
	if len(history) != 3 {
		t.Fatalf("kept %d entries, want 3", len(history))
	}
	if history[0].User.Text != "good" || history[1].Delta.Text != "" || history[2].Delta.Text != "also good" {
		t.Fatalf("kept wrong entries: %+v", history)
	}
}

func TestLoadAllSkipsFilesWithBadMetadata(t *testing.T) {
	store := testStore(t)

	// Valid session.
	if err := store.Append(testMeta("ext-good"), session.NewDelta("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// First line is an entry, not metadata.
	bad1 := `{"type":"delta","text":"orphan"}` + "\n"
	if err := os.WriteFile(store.path("ext-bad1"), []byte(bad1), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	// Metadata missing the external id.
	bad2 := `{"type":"meta","localId":3,"title":"x","createdAt":1}` + "\n"
	if err := os.WriteFile(store.path("ext-bad2"), []byte(bad2), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	// Empty file.
	if err := os.WriteFile(store.path("ext-empty"), nil, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	// Non-jsonl files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Meta.ExternalID != "ext-good" {
		t.Fatalf("loaded %+v, want only ext-good", loaded)
	}
}

func TestLoadAllOrdersByCreation(t *testing.T) {
	store := testStore(t)

	newer := testMeta("ext-newer")
	newer.CreatedAt = 1756700500000
	older := testMeta("ext-older")
	older.CreatedAt = 1756700000000

	if err := store.Append(newer, session.NewDelta("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(older, session.NewDelta("a")); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d sessions, want 2", len(loaded))
	}
	if loaded[0].Meta.ExternalID != "ext-older" || loaded[1].Meta.ExternalID != "ext-newer" {
		t.Fatalf("order %s, %s; want creation order", loaded[0].Meta.ExternalID, loaded[1].Meta.ExternalID)
	}
}

func TestLoadAllEmptyDir(t *testing.T) {
	store := testStore(t)
	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("loaded %d sessions from empty dir", len(loaded))
	}
}
