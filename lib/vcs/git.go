// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// refPrefix namespaces hallway snapshot refs away from user refs.
const refPrefix = "refs/hallway/"

// Git implements Differ and RefRecorder with the git CLI. All commands
// target the project directory via the -C flag, which every method
// injects; callers never depend on the process working directory.
//
// Snapshots are commits created with "git stash create" (which leaves
// the working tree untouched) pinned under refs/hallway/<uuid>.
type Git struct {
	dir string
}

// NewGit returns a Git collaborator for the given project directory.
func NewGit(dir string) *Git {
	return &Git{dir: dir}
}

// run executes a git command targeting the project directory and
// returns stdout. Stderr is captured separately and included in error
// messages on failure.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", g.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), g.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// RecordRef snapshots the current working tree under the given uuid.
// With a clean tree the snapshot is HEAD itself.
func (g *Git) RecordRef(ctx context.Context, uuid string) error {
	commit, err := g.run(ctx, "stash", "create")
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	commit = strings.TrimSpace(commit)
	if commit == "" {
		head, err := g.run(ctx, "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("resolving HEAD: %w", err)
		}
		commit = strings.TrimSpace(head)
	}
	if _, err := g.run(ctx, "update-ref", refPrefix+uuid, commit); err != nil {
		return fmt.Errorf("pinning snapshot ref: %w", err)
	}
	return nil
}

// DiffSince summarizes working-tree changes relative to the snapshot
// recorded for uuid.
func (g *Git) DiffSince(ctx context.Context, uuid string) (DiffSummary, error) {
	ref := refPrefix + uuid

	numstat, err := g.run(ctx, "diff", "--numstat", ref)
	if err != nil {
		return DiffSummary{}, err
	}
	summary := parseNumstat(numstat)

	diff, err := g.run(ctx, "diff", ref)
	if err != nil {
		return DiffSummary{}, err
	}
	summary.Diff = diff
	return summary, nil
}

// RestoreFiles resets tracked files (worktree and index) to the
// snapshot recorded for uuid.
func (g *Git) RestoreFiles(ctx context.Context, uuid string) error {
	_, err := g.run(ctx, "restore", "--source="+refPrefix+uuid, "--worktree", "--staged", ".")
	return err
}

// parseNumstat sums a git diff --numstat listing. Binary files report
// "-" for their counts and contribute only to the file count.
func parseNumstat(out string) DiffSummary {
	var summary DiffSummary
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		summary.FilesChanged++
		if added, err := strconv.Atoi(fields[0]); err == nil {
			summary.Insertions += added
		}
		if deleted, err := strconv.Atoi(fields[1]); err == nil {
			summary.Deletions += deleted
		}
	}
	return summary
}
