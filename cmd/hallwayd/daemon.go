// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hallway-sh/hallway/lib/agent"
	"github.com/hallway-sh/hallway/lib/session"
	"github.com/hallway-sh/hallway/lib/vcs"
	"github.com/hallway-sh/hallway/lib/viewerhub"
)

// daemon glues the session registry, the viewer hub, and the agent
// driver together. It implements viewerhub.Handler: every inbound
// viewer message lands in HandleMessage.
type daemon struct {
	projectDir string
	registry   *session.Registry
	hub        *viewerhub.Hub
	driver     agent.Driver
	differ     vcs.Differ
	recorder   vcs.RefRecorder
	logger     *slog.Logger

	agentStreams streams

	// lifetime bounds agent streams: they die with the daemon, not
	// with the viewer connection that started them.
	lifetime context.Context
}

// clientMessage is the envelope of every inbound viewer message.
type clientMessage struct {
	Type       string `json:"type"`
	ID         int    `json:"id"`
	Text       string `json:"text"`
	Query      string `json:"query"`
	Title      string `json:"title"`
	ExternalID string `json:"externalSessionId"`
	UUID       string `json:"uuid"`
	Mode       string `json:"mode"`
	RequestID  string `json:"requestId"`
	Allow      bool   `json:"allow"`
	Answer     string `json:"answer"`
	From       *int   `json:"from"`
}

// systemMessage is a human-readable notice shown inline by viewer UIs,
// used for precondition rejections.
type systemMessage struct {
	Type string `json:"type"` // "system_message"
	Text string `json:"text"`
}

// HandleConnect attaches a new viewer to the default session and sends
// it the current session list.
func (d *daemon) HandleConnect(v *viewerhub.Viewer) {
	v.Send(session.ListMessage{Type: "session_list", Sessions: d.registry.List()})
	d.registry.AttachDefault(v)
}

// HandleMessage routes one inbound viewer message.
func (d *daemon) HandleMessage(ctx context.Context, v *viewerhub.Viewer, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		v.Send(systemMessage{Type: "system_message", Text: "unparseable message"})
		return
	}

	switch msg.Type {
	case "user_message":
		d.userMessage(v, msg.Text)

	case "switch_session":
		if err := d.registry.Attach(v, msg.ID); err != nil {
			v.Send(systemMessage{Type: "system_message", Text: err.Error()})
		}

	case "new_session":
		created := d.registry.Create()
		if err := d.registry.Attach(v, created.ID); err != nil {
			d.logger.Error("attaching to fresh session", "error", err)
		}

	case "resume_session":
		resumed := d.registry.Resume(msg.ExternalID)
		if err := d.registry.Attach(v, resumed.ID); err != nil {
			d.logger.Error("attaching to resumed session", "error", err)
		}

	case "delete_session":
		if err := d.registry.Delete(msg.ID); err != nil {
			v.Send(systemMessage{Type: "system_message", Text: err.Error()})
		}

	case "set_title":
		if err := d.registry.SetTitle(msg.ID, msg.Title); err != nil {
			v.Send(systemMessage{Type: "system_message", Text: err.Error()})
		}

	case "replay":
		if err := d.registry.Replay(v, v.SessionID(), msg.From); err != nil {
			v.Send(systemMessage{Type: "system_message", Text: err.Error()})
		}

	case "search":
		v.Send(searchResults{Type: "search_results", Query: msg.Query, Results: d.registry.Search(msg.Query)})

	case "rewind_preview":
		d.rewindPreview(ctx, v, msg.UUID)

	case "rewind_execute":
		d.rewindExecute(ctx, v, msg.UUID, session.RewindMode(msg.Mode))

	case "permission_response":
		d.permissionResponse(v, msg.RequestID, msg.Allow)

	case "ask_user_response":
		d.askUserResponse(v, msg.RequestID, msg.Answer)

	default:
		v.Send(systemMessage{Type: "system_message", Text: "unknown message type " + msg.Type})
	}
}

type searchResults struct {
	Type    string            `json:"type"`
	Query   string            `json:"query"`
	Results []session.Summary `json:"results"`
}

type rewindPreviewResult struct {
	Type string `json:"type"` // "rewind_preview_result"
	session.RewindPreview
}

func (d *daemon) rewindPreview(ctx context.Context, v *viewerhub.Viewer, uuid string) {
	preview, err := d.registry.PreviewRewind(ctx, v.SessionID(), uuid, d.differ)
	if err != nil {
		v.Send(systemMessage{Type: "system_message", Text: rejectionText(err)})
		return
	}
	v.Send(rewindPreviewResult{Type: "rewind_preview_result", RewindPreview: preview})
}

func (d *daemon) rewindExecute(ctx context.Context, v *viewerhub.Viewer, uuid string, mode session.RewindMode) {
	if err := d.registry.ExecuteRewind(ctx, v.SessionID(), uuid, mode, d.differ); err != nil {
		v.Send(systemMessage{Type: "system_message", Text: rejectionText(err)})
	}
}

// rejectionText keeps viewer-facing rejections short and stable.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, session.ErrProcessing):
		return "cannot rewind while processing"
	case errors.Is(err, session.ErrNoRewindPoint):
		return "no rewind point"
	default:
		return err.Error()
	}
}
