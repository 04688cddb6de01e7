// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sync"

	"github.com/hallway-sh/hallway/lib/agent"
	"github.com/hallway-sh/hallway/lib/session"
	"github.com/hallway-sh/hallway/lib/viewerhub"
)

// streams tracks the live agent stream per session, for mid-turn sends
// and prompt responses. The session registry holds the same stream as
// an opaque ProcessHandle so deletion can kill it.
type streams struct {
	mu sync.Mutex
	m  map[int]agent.Stream
}

func (s *streams) get(localID int) agent.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[localID]
}

func (s *streams) put(localID int, stream agent.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[int]agent.Stream)
	}
	s.m[localID] = stream
}

func (s *streams) drop(localID int, stream agent.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[localID] == stream {
		delete(s.m, localID)
	}
}

const titleLimit = 50

// userMessage records a user message and feeds it to the session's
// agent stream, starting one if the session is idle.
func (d *daemon) userMessage(v *viewerhub.Viewer, text string) {
	if text == "" {
		return
	}
	localID := v.SessionID()

	if err := d.registry.Record(localID, session.NewUserMessage(text)); err != nil {
		v.Send(systemMessage{Type: "system_message", Text: err.Error()})
		return
	}
	d.registry.SetTitleIfEmpty(localID, truncate(text, titleLimit))

	if stream := d.agentStreams.get(localID); stream != nil {
		if err := stream.Send(agent.Message{Text: text}); err != nil {
			d.logger.Error("sending to agent", "localId", localID, "error", err)
		}
		_ = d.registry.SetProcessing(localID, true)
		return
	}

	externalID, err := d.registry.ExternalID(localID)
	if err != nil {
		return
	}
	stream, err := d.driver.Start(d.lifetime, agent.StartOptions{
		ExternalID: externalID,
		Prompt:     text,
		Dir:        d.projectDir,
	})
	if err != nil {
		d.logger.Error("starting agent", "localId", localID, "error", err)
		v.Send(systemMessage{Type: "system_message", Text: "failed to start agent"})
		return
	}
	d.agentStreams.put(localID, stream)
	_ = d.registry.SetHandle(localID, stream)
	_ = d.registry.SetProcessing(localID, true)
	go d.pump(localID, stream)
}

// pump translates one agent stream into registry mutations until the
// stream closes.
func (d *daemon) pump(localID int, stream agent.Stream) {
	for event := range stream.Events() {
		switch event.Kind {
		case agent.KindSessionStarted:
			if err := d.registry.BindExternal(localID, event.SessionID); err != nil {
				d.logger.Error("binding external session id", "localId", localID, "error", err)
			}

		case agent.KindDelta:
			_ = d.registry.Record(localID, session.NewDelta(event.Text))

		case agent.KindMessageUUID:
			_ = d.registry.Record(localID, session.NewMessageUUID(event.UUID, event.Role))
			if event.Role == "user" {
				// Snapshot the working tree at turn start so this uuid
				// is a rewindable point for file state too.
				if err := d.recorder.RecordRef(d.lifetime, event.UUID); err != nil {
					d.logger.Debug("recording rewind snapshot", "uuid", event.UUID, "error", err)
				}
			}

		case agent.KindToolCall:
			_ = d.registry.Record(localID, session.NewToolCall(event.ToolUseID, event.ToolName, event.ToolInput))

		case agent.KindToolResult:
			// Agents can emit the same tool result on multiple stream
			// events; only the first is recorded.
			if d.registry.ToolResultDelivered(localID, event.ToolUseID) {
				_ = d.registry.Record(localID, session.NewToolResult(event.ToolUseID, event.ToolOutput, event.IsError))
			}

		case agent.KindPermissionRequest:
			_ = d.registry.AddPendingPermission(localID, session.PermissionRequest{
				RequestID: event.RequestID,
				ToolName:  event.ToolName,
				ToolInput: event.ToolInput,
				ToolUseID: event.ToolUseID,
			})

		case agent.KindAskUser:
			_ = d.registry.AddPendingAsk(localID, session.AskUserPrompt{
				RequestID: event.RequestID,
				Question:  event.Text,
			})

		case agent.KindTurnDone:
			_ = d.registry.SetProcessing(localID, false)

		case agent.KindError:
			d.logger.Warn("agent error", "localId", localID, "error", event.Text)
			d.hub.BroadcastToSession(localID, systemMessage{Type: "system_message", Text: event.Text})
		}
	}

	_ = d.registry.SetProcessing(localID, false)
	_ = d.registry.SetHandle(localID, nil)
	d.agentStreams.drop(localID, stream)
	d.logger.Info("agent stream closed", "localId", localID)
}

func (d *daemon) permissionResponse(v *viewerhub.Viewer, requestID string, allow bool) {
	localID := v.SessionID()
	if _, ok := d.registry.ResolvePermission(localID, requestID); !ok {
		return
	}
	if stream := d.agentStreams.get(localID); stream != nil {
		if err := stream.Send(agent.Message{RequestID: requestID, Allow: allow}); err != nil {
			d.logger.Error("sending permission response", "localId", localID, "error", err)
		}
	}
}

func (d *daemon) askUserResponse(v *viewerhub.Viewer, requestID, answer string) {
	localID := v.SessionID()
	if _, ok := d.registry.ResolveAsk(localID, requestID); !ok {
		return
	}
	if stream := d.agentStreams.get(localID); stream != nil {
		if err := stream.Send(agent.Message{RequestID: requestID, Text: answer}); err != nil {
			d.logger.Error("sending ask-user response", "localId", localID, "error", err)
		}
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
