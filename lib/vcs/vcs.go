// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package vcs is the version-control collaborator boundary for rewind.
// The session engine asks it what changed since a rewind point and, on
// execute, to restore the working tree; it never touches files itself.
package vcs

import "context"

// DiffSummary describes working-tree changes since a rewind point.
type DiffSummary struct {
	FilesChanged int
	Insertions   int
	Deletions    int

	// Diff is the full per-file diff text.
	Diff string
}

// Differ computes and applies filesystem state relative to rewind
// points, addressed by message uuid.
type Differ interface {
	// DiffSince summarizes what changed since the snapshot taken for
	// the given message uuid.
	DiffSince(ctx context.Context, uuid string) (DiffSummary, error)

	// RestoreFiles resets the working tree to the snapshot taken for
	// the given message uuid.
	RestoreFiles(ctx context.Context, uuid string) error
}

// RefRecorder takes snapshots as turns start, so rewind points have
// something to diff against. Implemented alongside Differ.
type RefRecorder interface {
	// RecordRef snapshots the current working tree under the given
	// message uuid.
	RecordRef(ctx context.Context, uuid string) error
}

// Nop is a Differ and RefRecorder that reports no changes and restores
// nothing. Used for projects without version control.
type Nop struct{}

// DiffSince returns an empty summary.
func (Nop) DiffSince(ctx context.Context, uuid string) (DiffSummary, error) {
	return DiffSummary{}, nil
}

// RestoreFiles does nothing.
func (Nop) RestoreFiles(ctx context.Context, uuid string) error { return nil }

// RecordRef does nothing.
func (Nop) RecordRef(ctx context.Context, uuid string) error { return nil }
