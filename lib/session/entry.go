// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
)

// EntryKind classifies history entries.
type EntryKind string

const (
	// KindUserMessage is a message submitted by the user. User messages
	// mark turn boundaries: replay pages never start between a user
	// message and the response that follows it.
	KindUserMessage EntryKind = "user_message"

	// KindDelta is a streamed chunk of assistant output text.
	KindDelta EntryKind = "delta"

	// KindToolCall is a tool invocation by the agent.
	KindToolCall EntryKind = "tool_call"

	// KindToolResult is the result returned from a tool invocation.
	KindToolResult EntryKind = "tool_result"

	// KindMessageUUID marks the agent-assigned uuid of a completed user
	// or assistant message. These markers are the addressable rewind
	// targets.
	KindMessageUUID EntryKind = "message_uuid"

	// KindRewind announces that the session was rewound to an earlier
	// message uuid. Broadcast to live viewers so they reset their
	// transcript; never written to the log, which is truncated instead.
	KindRewind EntryKind = "rewind"
)

// HistoryEntry is a single immutable recorded event in a session's
// history. Each entry has a kind and kind-specific payload; exactly one
// payload pointer is set. Entries serialize flat, payload fields beside
// the type tag, so a user message is {"type":"user_message","text":...}
// both in session log files and on the viewer socket.
type HistoryEntry struct {
	// Kind classifies the entry.
	Kind EntryKind

	// User is set for KindUserMessage entries.
	User *UserMessage

	// Delta is set for KindDelta entries.
	Delta *Delta

	// ToolCall is set for KindToolCall entries.
	ToolCall *ToolCall

	// ToolResult is set for KindToolResult entries.
	ToolResult *ToolResult

	// MessageUUID is set for KindMessageUUID entries.
	MessageUUID *MessageUUID

	// Rewind is set for KindRewind entries.
	Rewind *Rewind
}

// UserMessage records a message submitted by the user.
type UserMessage struct {
	// Text is the message content.
	Text string
}

// Delta records a streamed chunk of assistant output.
type Delta struct {
	// Text is the chunk content.
	Text string
}

// ToolCall records a tool invocation by the agent.
type ToolCall struct {
	// ID is the agent-assigned tool use identifier.
	ID string

	// Name is the tool name.
	Name string

	// Input is the tool input, preserved as raw JSON.
	Input json.RawMessage
}

// ToolResult records the result of a tool invocation.
type ToolResult struct {
	// ID matches the corresponding ToolCall.ID.
	ID string

	// Output is the tool result text.
	Output string

	// IsError indicates the tool call failed.
	IsError bool
}

// MessageUUID marks the uuid of a completed message.
type MessageUUID struct {
	// UUID is the agent-assigned message uuid.
	UUID string

	// Role is "user" or "assistant". Serialized as "messageType".
	Role string
}

// Rewind records a rewind to an earlier message uuid.
type Rewind struct {
	// UUID is the message uuid the session was rewound to.
	UUID string
}

// wireEntry is the flat serialized form shared by every entry kind.
// Fields irrelevant to a kind are omitted. Text is a pointer so an
// empty user message still carries its "text" field.
type wireEntry struct {
	Type        EntryKind       `json:"type"`
	Text        *string         `json:"text,omitempty"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      string          `json:"output,omitempty"`
	IsError     bool            `json:"is_error,omitempty"`
	UUID        string          `json:"uuid,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
}

// MarshalJSON encodes the entry in the flat wire form.
func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	wire := wireEntry{Type: e.Kind}
	switch e.Kind {
	case KindUserMessage:
		if e.User != nil {
			wire.Text = &e.User.Text
		}
	case KindDelta:
		if e.Delta != nil {
			wire.Text = &e.Delta.Text
		}
	case KindToolCall:
		if call := e.ToolCall; call != nil {
			wire.ID = call.ID
			wire.Name = call.Name
			wire.Input = call.Input
		}
	case KindToolResult:
		if result := e.ToolResult; result != nil {
			wire.ID = result.ID
			wire.Output = result.Output
			wire.IsError = result.IsError
		}
	case KindMessageUUID:
		if marker := e.MessageUUID; marker != nil {
			wire.UUID = marker.UUID
			wire.MessageType = marker.Role
		}
	case KindRewind:
		if e.Rewind != nil {
			wire.UUID = e.Rewind.UUID
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the flat wire form. Known kinds always get a
// payload, absent fields decoding to zero values; unknown kinds leave
// every payload nil so Validate rejects them.
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var wire wireEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = HistoryEntry{Kind: wire.Type}
	text := ""
	if wire.Text != nil {
		text = *wire.Text
	}
	switch wire.Type {
	case KindUserMessage:
		e.User = &UserMessage{Text: text}
	case KindDelta:
		e.Delta = &Delta{Text: text}
	case KindToolCall:
		e.ToolCall = &ToolCall{ID: wire.ID, Name: wire.Name, Input: wire.Input}
	case KindToolResult:
		e.ToolResult = &ToolResult{ID: wire.ID, Output: wire.Output, IsError: wire.IsError}
	case KindMessageUUID:
		e.MessageUUID = &MessageUUID{UUID: wire.UUID, Role: wire.MessageType}
	case KindRewind:
		e.Rewind = &Rewind{UUID: wire.UUID}
	}
	return nil
}

// NewUserMessage returns a user message entry.
func NewUserMessage(text string) HistoryEntry {
	return HistoryEntry{Kind: KindUserMessage, User: &UserMessage{Text: text}}
}

// NewDelta returns an assistant output chunk entry.
func NewDelta(text string) HistoryEntry {
	return HistoryEntry{Kind: KindDelta, Delta: &Delta{Text: text}}
}

// NewToolCall returns a tool call entry.
func NewToolCall(id, name string, input json.RawMessage) HistoryEntry {
	return HistoryEntry{Kind: KindToolCall, ToolCall: &ToolCall{ID: id, Name: name, Input: input}}
}

// NewToolResult returns a tool result entry.
func NewToolResult(id, output string, isError bool) HistoryEntry {
	return HistoryEntry{Kind: KindToolResult, ToolResult: &ToolResult{ID: id, Output: output, IsError: isError}}
}

// NewMessageUUID returns a message uuid marker entry.
func NewMessageUUID(uuid, role string) HistoryEntry {
	return HistoryEntry{Kind: KindMessageUUID, MessageUUID: &MessageUUID{UUID: uuid, Role: role}}
}

// NewRewind returns a rewind marker entry.
func NewRewind(uuid string) HistoryEntry {
	return HistoryEntry{Kind: KindRewind, Rewind: &Rewind{UUID: uuid}}
}

// Validate checks that the entry kind is known and its payload is set.
// The log loader treats a validation failure as a corrupt line.
func (e HistoryEntry) Validate() error {
	switch e.Kind {
	case KindUserMessage:
		if e.User == nil {
			return fmt.Errorf("user_message entry missing payload")
		}
	case KindDelta:
		if e.Delta == nil {
			return fmt.Errorf("delta entry missing payload")
		}
	case KindToolCall:
		if e.ToolCall == nil {
			return fmt.Errorf("tool_call entry missing payload")
		}
	case KindToolResult:
		if e.ToolResult == nil {
			return fmt.Errorf("tool_result entry missing payload")
		}
	case KindMessageUUID:
		if e.MessageUUID == nil {
			return fmt.Errorf("message_uuid entry missing payload")
		}
	case KindRewind:
		if e.Rewind == nil {
			return fmt.Errorf("rewind entry missing payload")
		}
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	return nil
}

// TurnStart reports whether this entry marks the beginning of a
// conversational turn. Replay pages snap backward to the nearest
// turn start so a page never begins mid-turn.
func (e HistoryEntry) TurnStart() bool {
	return e.Kind == KindUserMessage
}

// Text returns the searchable free text of the entry, or "" for kinds
// that carry none. Session search matches against this.
func (e HistoryEntry) Text() string {
	switch e.Kind {
	case KindUserMessage:
		if e.User != nil {
			return e.User.Text
		}
	case KindDelta:
		if e.Delta != nil {
			return e.Delta.Text
		}
	}
	return ""
}
