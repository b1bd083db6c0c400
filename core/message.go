package core

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"
	// RoleUser is the human (or synthetic nudge) role.
	RoleUser Role = "user"
	// RoleAssistant is the model role.
	RoleAssistant Role = "assistant"
	// RoleTool is the role of tool execution results folded back into history.
	RoleTool Role = "tool"
)

// ToolCall is a structured request emitted by the model naming a tool and its
// JSON-encoded arguments. Arguments stay opaque until dispatch; they are
// parsed defensively per call (see ParseArguments).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the JSON arguments into a map. A parse failure
// degrades to an empty map rather than an error: one malformed call must
// never abort a whole assistant turn. The second return reports whether the
// arguments decoded cleanly.
func (tc ToolCall) ParseArguments() (map[string]any, bool) {
	args := map[string]any{}
	if tc.Arguments == "" {
		return args, true
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return map[string]any{}, false
	}
	return args, true
}

// Message is one entry of the conversation history.
//
// Invariants:
//   - RoleTool messages always carry ToolCallID referencing a ToolCall.ID
//     from a prior assistant message.
//   - RoleAssistant messages with ToolCalls may have empty Content.
//
// Messages are appended once and never mutated in place; the store returns
// clones so consumers cannot corrupt history through a returned value.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewSystemMessage creates a system prompt message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage creates a tool result message bound to the tool call that
// produced it.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// HasToolCalls reports whether the message carries at least one tool call.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy of the message. The ToolCalls slice is copied so
// the caller cannot reach back into stored history.
func (m Message) Clone() Message {
	c := m
	if len(m.ToolCalls) > 0 {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(c.ToolCalls, m.ToolCalls)
	}
	return c
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// NewID generates a unique identifier for runs and synthesized tool calls.
func NewID() string { return uuid.NewString() }
