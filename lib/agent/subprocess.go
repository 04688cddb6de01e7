// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// SubprocessDriver runs the agent as a child process speaking JSONL:
// one Event per stdout line, one Message per stdin line. This is the
// production glue around whatever agent CLI the daemon is configured
// with; the session engine never sees the process.
type SubprocessDriver struct {
	// Command is the agent command line; Command[0] is the binary.
	Command []string

	Logger *slog.Logger
}

// Start launches the agent process and begins decoding its events.
func (d *SubprocessDriver) Start(ctx context.Context, opts StartOptions) (Stream, error) {
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("no agent command configured")
	}

	args := append([]string(nil), d.Command[1:]...)
	if opts.ExternalID != "" {
		args = append(args, "--resume", opts.ExternalID)
	}
	cmd := exec.CommandContext(ctx, d.Command[0], args...)
	cmd.Dir = opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", d.Command[0], err)
	}

	stream := &subprocessStream{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Event, 64),
		logger: d.Logger,
	}
	go stream.readEvents(stdout)

	if opts.Prompt != "" {
		if err := stream.Send(Message{Text: opts.Prompt}); err != nil {
			stream.Close()
			return nil, err
		}
	}
	return stream, nil
}

type subprocessStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *subprocessStream) Events() <-chan Event { return s.events }

func (s *subprocessStream) Send(message Message) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding agent message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("writing to agent: %w", err)
	}
	return nil
}

// Close force-terminates the agent process. Safe to call more than
// once and safe to call while readEvents is running.
func (s *subprocessStream) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

func (s *subprocessStream) readEvents(stdout io.Reader) {
	defer close(s.events)
	defer s.cmd.Wait()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			s.logger.Warn("dropping undecodable agent event", "error", err)
			continue
		}
		s.events <- event
	}
}
