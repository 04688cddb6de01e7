// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Hallwayd is the long-lived hallway daemon. It owns every agent
// session for a project: it persists session history as JSONL, fans
// live events out to connected websocket viewers, replays bounded
// history to late joiners, and serves the local control socket that
// launcher invocations use to detect and command it.
//
// On startup:
//  1. Resolves the daemon home and loads config.yaml if present.
//  2. Resumes persisted sessions from the project's session directory.
//  3. Binds the control socket (failing if a live daemon holds it).
//  4. Writes the daemon record for launcher liveness checks.
//  5. Serves the websocket viewer endpoint until signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hallway-sh/hallway/lib/agent"
	"github.com/hallway-sh/hallway/lib/clock"
	"github.com/hallway-sh/hallway/lib/config"
	"github.com/hallway-sh/hallway/lib/control"
	"github.com/hallway-sh/hallway/lib/process"
	"github.com/hallway-sh/hallway/lib/projects"
	"github.com/hallway-sh/hallway/lib/session"
	"github.com/hallway-sh/hallway/lib/sessionlog"
	"github.com/hallway-sh/hallway/lib/vcs"
	"github.com/hallway-sh/hallway/lib/version"
	"github.com/hallway-sh/hallway/lib/viewerhub"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		projectDir   string
		listen       string
		agentCommand []string
		debug        bool
		showVersion  bool
	)

	flags := pflag.NewFlagSet("hallwayd", pflag.ContinueOnError)
	flags.StringVar(&projectDir, "project-dir", "", "project working directory (default: current directory)")
	flags.StringVar(&listen, "listen", "", "viewer HTTP listen address (overrides config)")
	flags.StringArrayVar(&agentCommand, "agent-command", nil, "agent subprocess command (repeat for arguments, overrides config)")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("hallwayd %s\n", version.Info())
		return nil
	}

	home, err := config.EnsureHome()
	if err != nil {
		return err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if len(agentCommand) > 0 {
		cfg.AgentCommand = agentCommand
	}
	if debug {
		cfg.Debug = true
	}
	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sessionlog.New(config.SessionsDir(projectDir), logger)
	if err != nil {
		return err
	}

	var differ vcs.Differ = vcs.Nop{}
	var recorder vcs.RefRecorder = vcs.Nop{}
	if _, err := os.Stat(projectDir + "/.git"); err == nil {
		git := vcs.NewGit(projectDir)
		differ, recorder = git, git
	}

	var driver agent.Driver
	if len(cfg.AgentCommand) > 0 {
		driver = &agent.SubprocessDriver{Command: cfg.AgentCommand, Logger: logger}
	} else {
		logger.Warn("no agent command configured, sessions cannot start turns")
		driver = &agent.ScriptedDriver{}
	}

	d := &daemon{
		projectDir: projectDir,
		driver:     driver,
		differ:     differ,
		recorder:   recorder,
		logger:     logger,
		lifetime:   ctx,
	}
	d.hub = viewerhub.New(d, cfg.ViewerSendBuffer, logger)
	d.registry = session.NewRegistry(store, d.hub, clock.Real(), logger, cfg.PageSize)
	if err := d.registry.Load(); err != nil {
		return fmt.Errorf("resuming sessions: %w", err)
	}

	// The recent-projects registry is shared across daemon instances;
	// failures are advisory only.
	if err := projects.Sync(config.RecentProjectsPath(home), projectDir, "", time.Now()); err != nil {
		logger.Warn("updating recent projects", "error", err)
	}

	controlServer := control.NewServer(config.SocketPath(home), logger)
	registerControlHandlers(controlServer, d, stop)

	record := control.Record{
		PID:        os.Getpid(),
		SocketPath: config.SocketPath(home),
		StartedAt:  time.Now().UnixMilli(),
		Version:    version.Version,
	}
	if err := control.WriteRecord(config.RecordPath(home), record); err != nil {
		return err
	}
	defer control.RemoveRecord(config.RecordPath(home))

	mux := http.NewServeMux()
	mux.Handle("/ws", d.hub)
	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		// A control socket bind failure is fatal: it means a live
		// daemon already owns this home.
		errCh <- controlServer.Serve(ctx)
	}()
	go func() {
		listener, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			errCh <- fmt.Errorf("binding viewer listener %s: %w", cfg.Listen, err)
			return
		}
		logger.Info("viewer endpoint listening", "addr", cfg.Listen)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("hallwayd started",
		"pid", os.Getpid(),
		"project", projectDir,
		"home", home,
		"version", version.Info(),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			httpServer.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("hallwayd stopped")
	return nil
}
