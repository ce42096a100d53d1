// Package dialogue defines the message types exchanged between the user,
// the model, and tool servers during an agent run.
package dialogue

import (
	"encoding/json"
	"time"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the model's request to invoke a named tool. Arguments holds the
// raw JSON object to avoid premature deserialization.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of one tool invocation. IsError marks results the
// loop should feed back to the model as failures; Elapsed is wall-clock time.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
	Elapsed    time.Duration
}

// Message returns the tool-role message carrying this result, tagged with the
// originating call id.
func (r ToolResult) Message() Message {
	return Message{Role: RoleTool, Content: r.Content, ToolCallID: r.ToolCallID}
}

// Message is one entry in a conversation. Exactly one shape applies per role:
// user messages carry text, assistant messages carry text and zero or more
// tool calls, tool messages carry a result tagged with its originating call id.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
}

// User creates a user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// Assistant creates an assistant message with optional tool calls.
func Assistant(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolReply creates a tool message for the given originating call id.
func ToolReply(callID, text string) Message {
	return Message{Role: RoleTool, Content: text, ToolCallID: callID}
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
