// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package projects maintains the recent-projects registry: a small
// JSON file shared across daemon instances listing projects hallway
// has been run in, newest first. Updates use read-merge-atomic-rename
// so concurrent daemons never lose each other's entries wholesale;
// within one project path, last writer wins.
package projects

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"
)

// MaxEntries caps the registry size.
const MaxEntries = 20

// Entry is one recent project.
type Entry struct {
	Path     string `json:"path"`
	Slug     string `json:"slug"`
	Title    string `json:"title,omitempty"`
	AddedAt  int64  `json:"addedAt"`
	LastUsed int64  `json:"lastUsed"`
}

type registryFile struct {
	RecentProjects []Entry `json:"recentProjects"`
}

// Load reads the registry. A missing or unparseable file yields an
// empty list; the registry is best-effort convenience state.
func Load(path string) []Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	return file.RecentProjects
}

// Sync merges a project into the registry and writes it back
// atomically. An existing entry for the same path keeps its addedAt
// and slug but gets a fresh lastUsed (and title when non-empty); a new
// entry gets a slug unique among current entries. The result is sorted
// by lastUsed descending and capped at MaxEntries.
func Sync(path string, projectPath, title string, now time.Time) error {
	entries := Load(path)
	nowMillis := now.UnixMilli()

	found := false
	for i := range entries {
		if entries[i].Path != projectPath {
			continue
		}
		entries[i].LastUsed = nowMillis
		if title != "" {
			entries[i].Title = title
		}
		found = true
		break
	}
	if !found {
		existing := make([]string, 0, len(entries))
		for _, e := range entries {
			existing = append(existing, e.Slug)
		}
		entries = append(entries, Entry{
			Path:     projectPath,
			Slug:     Slug(projectPath, existing),
			Title:    title,
			AddedAt:  nowMillis,
			LastUsed: nowMillis,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastUsed > entries[j].LastUsed
	})
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}

	return write(path, entries)
}

func write(path string, entries []Entry) error {
	encoded, err := json.MarshalIndent(registryFile{RecentProjects: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recent projects: %w", err)
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, append(encoded, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing recent projects: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("replacing recent projects: %w", err)
	}
	return nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9_-]+`)
var slugDashes = regexp.MustCompile(`-+`)

// Slug derives a short identifier from a project path's basename,
// unique among existing slugs. Collisions get numeric suffixes -2
// through -99, then a timestamp suffix as a last resort.
func Slug(projectPath string, existing []string) string {
	base := slugStrip.ReplaceAllString(strings.ToLower(filepath.Base(projectPath)), "-")
	base = slugDashes.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "project"
	}
	if !slices.Contains(existing, base) {
		return base
	}
	for i := 2; i < 100; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !slices.Contains(existing, candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%d", base, time.Now().UnixMilli())
}
