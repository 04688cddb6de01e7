// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides path resolution and configuration loading
// for hallway binaries.
//
// All daemon state lives under a single home directory: the control
// socket, the daemon record, the recent-projects registry, the daemon
// log, and the optional config file. The home defaults to ~/.hallway
// and can be overridden with the HALLWAY_HOME environment variable,
// which also namespaces per-project session directories so that two
// daemon instances pointed at the same project never write the same
// session files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HomeEnv is the environment variable overriding the daemon home.
const HomeEnv = "HALLWAY_HOME"

// Home returns the daemon home directory: $HALLWAY_HOME if set, else
// ~/.hallway.
func Home() (string, error) {
	if override := os.Getenv(HomeEnv); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving user home directory: %w", err)
	}
	return filepath.Join(home, ".hallway"), nil
}

// EnsureHome creates the daemon home directory if needed and returns it.
func EnsureHome() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", fmt.Errorf("creating daemon home %s: %w", home, err)
	}
	return home, nil
}

// SocketPath returns the control socket path under the daemon home.
func SocketPath(home string) string { return filepath.Join(home, "daemon.sock") }

// RecordPath returns the daemon record file path under the daemon home.
func RecordPath(home string) string { return filepath.Join(home, "daemon.json") }

// RecentProjectsPath returns the shared recent-projects registry path.
func RecentProjectsPath(home string) string { return filepath.Join(home, "recent-projects.json") }

// LogPath returns the daemon log file path under the daemon home.
func LogPath(home string) string { return filepath.Join(home, "daemon.log") }

// ConfigPath returns the optional config file path under the daemon home.
func ConfigPath(home string) string { return filepath.Join(home, "config.yaml") }

// SessionsDir returns the session log directory for a project. When
// HALLWAY_HOME is set, the subdirectory name is suffixed with the home
// basename so multiple daemon instances sharing one project directory
// keep disjoint session stores.
func SessionsDir(projectDir string) string {
	subdir := "sessions"
	if override := os.Getenv(HomeEnv); override != "" {
		subdir = "sessions-" + filepath.Base(override)
	}
	return filepath.Join(projectDir, ".hallway", subdir)
}

// Config holds daemon settings loadable from <home>/config.yaml.
type Config struct {
	// Listen is the address the viewer HTTP/websocket server binds.
	Listen string `yaml:"listen"`

	// PageSize is the replay page size in history entries.
	PageSize int `yaml:"page_size"`

	// ViewerSendBuffer is the per-viewer outbound channel capacity.
	ViewerSendBuffer int `yaml:"viewer_send_buffer"`

	// AgentCommand is the agent subprocess command line. The first
	// element is the binary, the rest are arguments.
	AgentCommand []string `yaml:"agent_command"`

	// Debug raises the log level to debug.
	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:           "127.0.0.1:3456",
		PageSize:         200,
		ViewerSendBuffer: 256,
	}
}

// Load reads <home>/config.yaml if it exists and overlays it on the
// defaults. A missing file is not an error; an unparseable one is.
func Load(home string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ConfigPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", ConfigPath(home), err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = Default().PageSize
	}
	if cfg.ViewerSendBuffer <= 0 {
		cfg.ViewerSendBuffer = Default().ViewerSendBuffer
	}
	if cfg.Listen == "" {
		cfg.Listen = Default().Listen
	}
	return cfg, nil
}
