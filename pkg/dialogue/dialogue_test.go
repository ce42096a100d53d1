package dialogue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser(t *testing.T) {
	msg := User("hello")

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.HasToolCalls())
}

func TestAssistant_WithToolCalls(t *testing.T) {
	tc := ToolCall{ID: "call-1", Name: "list_pipelines", Arguments: json.RawMessage(`{"limit":5}`)}
	msg := Assistant("checking", tc)

	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "checking", msg.Content)
	assert.True(t, msg.HasToolCalls())
	assert.Equal(t, "list_pipelines", msg.ToolCalls[0].Name)
}

func TestAssistant_NoToolCalls(t *testing.T) {
	msg := Assistant("done")

	assert.False(t, msg.HasToolCalls())
	assert.Empty(t, msg.ToolCalls)
}

func TestToolReply(t *testing.T) {
	msg := ToolReply("call-1", "ok")

	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Equal(t, "ok", msg.Content)
}

func TestToolResult_Message(t *testing.T) {
	r := ToolResult{ToolCallID: "call-2", Content: "Error: boom", IsError: true, Elapsed: time.Second}
	msg := r.Message()

	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call-2", msg.ToolCallID)
	assert.Equal(t, "Error: boom", msg.Content)
}
