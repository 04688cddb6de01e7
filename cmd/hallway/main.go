// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Hallway is the launcher CLI for the hallway daemon. It detects a
// running daemon over the control socket, reusing it when alive and
// spawning a fresh one (after clearing stale state) when not, and
// exposes daemon commands: status, stop, session listing, and the
// recent-projects registry.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/hallway-sh/hallway/lib/config"
	"github.com/hallway-sh/hallway/lib/control"
	"github.com/hallway-sh/hallway/lib/process"
	"github.com/hallway-sh/hallway/lib/projects"
	"github.com/hallway-sh/hallway/lib/version"
)

func main() {
	root := &command{
		Name:    "hallway",
		Summary: "Multiplex agent sessions to remote viewers.",
		Subcommands: []*command{
			upCommand(),
			statusCommand(),
			stopCommand(),
			sessionsCommand(),
			projectsCommand(),
			versionCommand(),
		},
	}
	if err := root.execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func upCommand() *command {
	var projectDir string
	var wait time.Duration
	return &command{
		Name:    "up",
		Summary: "Start the daemon (or reuse a running one).",
		Usage:   "hallway up [--project-dir <dir>]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("up", pflag.ContinueOnError)
			flags.StringVar(&projectDir, "project-dir", "", "project directory (default: current directory)")
			flags.DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the daemon to come up")
			return flags
		},
		Run: func(args []string) error {
			home, err := config.EnsureHome()
			if err != nil {
				return err
			}
			if projectDir == "" {
				projectDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			record := control.LoadRecord(config.RecordPath(home))
			if control.IsDaemonAlive(record) {
				fmt.Printf("daemon already running (pid %d)\n", record.PID)
				return nil
			}

			// Stale record or unreachable socket: clear both before
			// spawning, so the fresh daemon can bind cleanly.
			control.ClearStale(config.RecordPath(home), config.SocketPath(home))

			pid, err := spawnDaemon(home, projectDir)
			if err != nil {
				return err
			}
			if err := waitForDaemon(config.SocketPath(home), wait); err != nil {
				return fmt.Errorf("daemon (pid %d) did not come up: %w", pid, err)
			}
			fmt.Printf("daemon started (pid %d)\n", pid)
			return nil
		},
	}
}

func statusCommand() *command {
	return &command{
		Name:    "status",
		Summary: "Show daemon status.",
		Run: func(args []string) error {
			home, err := config.Home()
			if err != nil {
				return err
			}
			record := control.LoadRecord(config.RecordPath(home))
			if !control.IsDaemonAlive(record) {
				fmt.Println("daemon not running")
				return nil
			}
			response := control.SendCommand(config.SocketPath(home), map[string]any{"cmd": "status"})
			if !response.OK {
				return fmt.Errorf("status: %s", response.Error)
			}
			var status struct {
				PID      int    `json:"pid"`
				Version  string `json:"version"`
				Project  string `json:"project"`
				Sessions int    `json:"sessions"`
				Viewers  int    `json:"viewers"`
			}
			if err := decodeResponse(response, &status); err != nil {
				return err
			}
			fmt.Printf("pid:      %d\nversion:  %s\nproject:  %s\nsessions: %d\nviewers:  %d\n",
				status.PID, status.Version, status.Project, status.Sessions, status.Viewers)
			return nil
		},
	}
}

func stopCommand() *command {
	return &command{
		Name:    "stop",
		Summary: "Stop the running daemon.",
		Run: func(args []string) error {
			home, err := config.Home()
			if err != nil {
				return err
			}
			response := control.SendCommand(config.SocketPath(home), map[string]any{"cmd": "stop"})
			if !response.OK {
				return fmt.Errorf("stop: %s", response.Error)
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func sessionsCommand() *command {
	return &command{
		Name:    "sessions",
		Summary: "List the daemon's sessions.",
		Run: func(args []string) error {
			home, err := config.Home()
			if err != nil {
				return err
			}
			response := control.SendCommand(config.SocketPath(home), map[string]any{"cmd": "list-sessions"})
			if !response.OK {
				return fmt.Errorf("list-sessions: %s", response.Error)
			}
			var list struct {
				Sessions []struct {
					ID           int    `json:"id"`
					Title        string `json:"title"`
					Processing   bool   `json:"isProcessing"`
					LastActivity int64  `json:"lastActivity"`
				} `json:"sessions"`
			}
			if err := decodeResponse(response, &list); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTATE\tLAST ACTIVITY")
			for _, s := range list.Sessions {
				state := "idle"
				if s.Processing {
					state = "processing"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
					s.ID, s.Title, state, time.UnixMilli(s.LastActivity).Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func projectsCommand() *command {
	return &command{
		Name:    "projects",
		Summary: "List recently used projects.",
		Run: func(args []string) error {
			home, err := config.Home()
			if err != nil {
				return err
			}
			entries := projects.Load(config.RecentProjectsPath(home))
			if len(entries) == 0 {
				fmt.Println("no recent projects")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tPATH\tLAST USED")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					entry.Slug, entry.Path, time.UnixMilli(entry.LastUsed).Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func versionCommand() *command {
	return &command{
		Name:    "version",
		Summary: "Print version information.",
		Run: func(args []string) error {
			fmt.Printf("hallway %s\n", version.Info())
			return nil
		},
	}
}
