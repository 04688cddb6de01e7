// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
)

// ScriptedDriver replays a fixed event script. Tests and the demo mode
// use it in place of a real agent process.
type ScriptedDriver struct {
	// Script is emitted on the events channel after Start.
	Script []Event
}

// Start returns a stream that emits the script and then closes.
func (d *ScriptedDriver) Start(ctx context.Context, opts StartOptions) (Stream, error) {
	stream := &scriptedStream{
		events: make(chan Event, len(d.Script)+1),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(stream.events)
		for _, event := range d.Script {
			select {
			case stream.events <- event:
			case <-ctx.Done():
				return
			case <-stream.closed:
				return
			}
		}
	}()
	return stream, nil
}

type scriptedStream struct {
	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
	sent      []Message
	mu        sync.Mutex
}

func (s *scriptedStream) Events() <-chan Event { return s.events }

func (s *scriptedStream) Send(message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return nil
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

// Sent returns the messages delivered to the stream so far.
func (s *scriptedStream) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
