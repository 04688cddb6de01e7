// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the boundary to the conversational agent process.
// The daemon treats the agent as an opaque query/streaming collaborator:
// it starts a stream, feeds it user messages, consumes typed events,
// and can force-terminate it. The concrete protocol behind the stream
// lives entirely in the driver implementations.
package agent

import (
	"context"
	"encoding/json"
)

// EventKind classifies events emitted by an agent stream.
type EventKind string

const (
	// KindSessionStarted carries the agent-assigned external session id.
	KindSessionStarted EventKind = "session_started"

	// KindDelta is a chunk of streamed assistant text.
	KindDelta EventKind = "delta"

	// KindMessageUUID marks a completed message's uuid.
	KindMessageUUID EventKind = "message_uuid"

	// KindToolCall is a tool invocation.
	KindToolCall EventKind = "tool_call"

	// KindToolResult is a tool invocation result.
	KindToolResult EventKind = "tool_result"

	// KindPermissionRequest asks the user to approve a tool use.
	KindPermissionRequest EventKind = "permission_request"

	// KindAskUser is a free-form question for the user.
	KindAskUser EventKind = "ask_user"

	// KindTurnDone signals the end of the current turn.
	KindTurnDone EventKind = "turn_done"

	// KindError reports an agent-side failure.
	KindError EventKind = "error"
)

// Event is one typed event from the agent stream.
type Event struct {
	Kind EventKind `json:"kind"`

	// SessionID is set on session_started.
	SessionID string `json:"sessionId,omitempty"`

	// Text carries delta text, ask-user questions, and error messages.
	Text string `json:"text,omitempty"`

	// UUID and Role are set on message_uuid.
	UUID string `json:"uuid,omitempty"`
	Role string `json:"role,omitempty"`

	// Tool fields are set on tool_call, tool_result, and
	// permission_request.
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolUseID  string          `json:"toolUseId,omitempty"`
	ToolOutput string          `json:"toolOutput,omitempty"`
	IsError    bool            `json:"isError,omitempty"`

	// RequestID correlates permission_request and ask_user with their
	// responses.
	RequestID string `json:"requestId,omitempty"`
}

// StartOptions configures a new agent stream.
type StartOptions struct {
	// ExternalID resumes an existing agent-side session when non-empty.
	ExternalID string

	// Prompt is the first user message.
	Prompt string

	// Dir is the project working directory.
	Dir string
}

// Stream is one running conversation with the agent process.
type Stream interface {
	// Events returns the stream's event channel. Closed when the
	// agent process exits.
	Events() <-chan Event

	// Send delivers a user message (or a permission / ask-user
	// response) to the agent mid-turn.
	Send(message Message) error

	// Close force-terminates the agent process. Idempotent.
	Close() error
}

// Message is an inbound message for the agent.
type Message struct {
	// Text is a user message when RequestID is empty.
	Text string `json:"text,omitempty"`

	// RequestID, when set, answers a permission_request or ask_user
	// event.
	RequestID string `json:"requestId,omitempty"`

	// Allow is the permission decision.
	Allow bool `json:"allow,omitempty"`
}

// Driver creates agent streams.
type Driver interface {
	Start(ctx context.Context, opts StartOptions) (Stream, error)
}
