package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendLoad_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgs := []dialogue.Message{
		dialogue.User("check the latest build"),
		dialogue.Assistant("looking",
			dialogue.ToolCall{ID: "call-1", Name: "list_pipelines", Arguments: json.RawMessage(`{"limit":1}`)},
		),
		dialogue.ToolReply("call-1", `{"total":1}`),
		dialogue.Assistant("the build passed"),
	}
	for _, m := range msgs {
		require.NoError(t, s.Append(ctx, "sess-1", m))
	}

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded, 4)

	assert.Equal(t, dialogue.RoleUser, loaded[0].Role)
	assert.Equal(t, "check the latest build", loaded[0].Content)

	require.Len(t, loaded[1].ToolCalls, 1)
	assert.Equal(t, "call-1", loaded[1].ToolCalls[0].ID)
	assert.Equal(t, "list_pipelines", loaded[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"limit":1}`, string(loaded[1].ToolCalls[0].Arguments))

	assert.Equal(t, dialogue.RoleTool, loaded[2].Role)
	assert.Equal(t, "call-1", loaded[2].ToolCallID)

	assert.Equal(t, "the build passed", loaded[3].Content)
	assert.Empty(t, loaded[3].ToolCalls)
}

func TestLoad_UnknownSession(t *testing.T) {
	s := openTestStore(t)

	loaded, err := s.Load(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestAppend_SessionsIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "a", dialogue.User("for a")))
	require.NoError(t, s.Append(ctx, "b", dialogue.User("for b")))

	loadedA, err := s.Load(ctx, "a")
	require.NoError(t, err)
	require.Len(t, loadedA, 1)
	assert.Equal(t, "for a", loadedA[0].Content)
}
