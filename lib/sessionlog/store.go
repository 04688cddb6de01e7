// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionlog persists session histories as JSONL files, one
// file per session. The first line of every file is a metadata record;
// each subsequent line is one history entry. Appends are single writes
// followed by a sync so entries survive a crash; metadata changes and
// rewind truncation rewrite the whole file atomically.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hallway-sh/hallway/lib/session"
)

// Store implements session.Store over a directory of JSONL files.
// The registry serializes calls per session; the store itself holds no
// locks beyond what the filesystem provides.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates the session log directory if needed and returns a Store.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the log directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(externalID string) string {
	return filepath.Join(s.dir, externalID+".jsonl")
}

// Append writes one entry line to the session's log. If the file does
// not exist yet (lazy creation), it is created with the metadata line
// first. The write is synced so a crash immediately after Append never
// loses a committed entry.
func (s *Store) Append(meta session.Meta, entry session.HistoryEntry) error {
	path := s.path(meta.ExternalID)

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening session log %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	if fresh {
		meta.Type = session.MetaType
		if err := encoder.Encode(meta); err != nil {
			return fmt.Errorf("writing session log metadata: %w", err)
		}
	}
	if err := encoder.Encode(entry); err != nil {
		return fmt.Errorf("encoding session log entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing session log: %w", err)
	}
	return nil
}

// Rewrite atomically replaces the session's log with the metadata line
// plus the given history, via write-to-temp and rename.
func (s *Store) Rewrite(meta session.Meta, history []session.HistoryEntry) error {
	path := s.path(meta.ExternalID)
	temp := path + ".tmp"

	file, err := os.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp session log %s: %w", temp, err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	meta.Type = session.MetaType
	writeErr := encoder.Encode(meta)
	for _, entry := range history {
		if writeErr != nil {
			break
		}
		writeErr = encoder.Encode(entry)
	}
	if writeErr == nil {
		writeErr = file.Sync()
	}
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(temp)
		return fmt.Errorf("writing session log %s: %w", path, writeErr)
	}

	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("replacing session log %s: %w", path, err)
	}
	return nil
}

// Delete removes the session's log file. Missing files are fine.
func (s *Store) Delete(externalID string) error {
	if err := os.Remove(s.path(externalID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session log: %w", err)
	}
	return nil
}

// LoadAll scans the log directory and reconstructs every parseable
// session, ordered by metadata creation time. A file whose first line
// is not a valid metadata record is skipped entirely; individual
// corrupt entry lines are skipped with a log line. Partial files are
// dropped, never repaired.
func (s *Store) LoadAll() ([]session.LoadedSession, error) {
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading session directory %s: %w", s.dir, err)
	}

	var loaded []session.LoadedSession
	for _, dirent := range names {
		if dirent.IsDir() || !strings.HasSuffix(dirent.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(s.dir, dirent.Name())
		record, ok := s.loadFile(path)
		if !ok {
			continue
		}
		loaded = append(loaded, record)
	}

	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].Meta.CreatedAt < loaded[j].Meta.CreatedAt
	})
	return loaded, nil
}

func (s *Store) loadFile(path string) (session.LoadedSession, bool) {
	file, err := os.Open(path)
	if err != nil {
		s.logger.Warn("skipping unreadable session log", "path", path, "error", err)
		return session.LoadedSession{}, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !scanner.Scan() {
		s.logger.Warn("skipping empty session log", "path", path)
		return session.LoadedSession{}, false
	}
	var meta session.Meta
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil || meta.Type != session.MetaType || meta.ExternalID == "" {
		s.logger.Warn("skipping session log with invalid metadata", "path", path)
		return session.LoadedSession{}, false
	}

	var history []session.HistoryEntry
	line := 1
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry session.HistoryEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			s.logger.Warn("skipping corrupt session log line", "path", path, "line", line, "error", err)
			continue
		}
		if err := entry.Validate(); err != nil {
			s.logger.Warn("skipping invalid session log entry", "path", path, "line", line, "error", err)
			continue
		}
		history = append(history, entry)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("truncated session log read", "path", path, "error", err)
	}

	record := session.LoadedSession{Meta: meta, History: history}
	if info, err := os.Stat(path); err == nil {
		record.ModTime = info.ModTime().UnixMilli()
	}
	return record, true
}

// maxLineSize bounds a single history entry line. 10 MB is generous
// for tool outputs while keeping a corrupt file from exhausting memory.
const maxLineSize = 10 * 1024 * 1024
