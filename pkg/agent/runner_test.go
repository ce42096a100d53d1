package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/hamzilla/mcp/pkg/tools/bridge"
	"github.com/hamzilla/mcp/pkg/tools/registry"
	"github.com/hamzilla/mcp/pkg/tools/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCompleter replays a fixed sequence of replies and records the
// message history it was given on each call.
type scriptedCompleter struct {
	replies []dialogue.Message
	errs    []error
	calls   [][]dialogue.Message
}

func (c *scriptedCompleter) Complete(_ context.Context, msgs []dialogue.Message, _ []session.Tool) (dialogue.Message, error) {
	c.calls = append(c.calls, msgs)

	i := len(c.calls) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return dialogue.Message{}, c.errs[i]
	}
	if i >= len(c.replies) {
		return dialogue.Message{}, errors.New("scripted completer exhausted")
	}
	return c.replies[i], nil
}

// recordingInvoker returns canned results and records call order.
type recordingInvoker struct {
	results map[string]dialogue.ToolResult
	order   []string
}

func (inv *recordingInvoker) Invoke(_ context.Context, call dialogue.ToolCall) dialogue.ToolResult {
	inv.order = append(inv.order, call.Name)
	if r, ok := inv.results[call.Name]; ok {
		r.ToolCallID = call.ID
		return r
	}
	return dialogue.ToolResult{ToolCallID: call.ID, Content: "ok"}
}

// memStore is an in-memory store.Store.
type memStore struct {
	sessions map[string][]dialogue.Message
	loadErr  error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]dialogue.Message)}
}

func (s *memStore) Append(_ context.Context, sessionID string, msg dialogue.Message) error {
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

func (s *memStore) Load(_ context.Context, sessionID string) ([]dialogue.Message, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.sessions[sessionID], nil
}

func TestRun_NoToolsRequested(t *testing.T) {
	c := &scriptedCompleter{replies: []dialogue.Message{dialogue.Assistant("all good")}}
	inv := &recordingInvoker{}
	r := NewRunner(c, inv, nil, nil, nil, Options{})

	res := r.Run(context.Background(), "status?", QueryOptions{})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "all good", res.Content)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Partial)
	assert.Len(t, c.calls, 1, "exactly one model call")
	assert.Empty(t, inv.order, "zero tool calls")
}

// routingSession is a minimal session.Session for the cross-server scenario.
type routingSession struct {
	name    string
	tools   []session.Tool
	calls   *[]string // shared log of "server/tool" entries
	results map[string]string
}

func (s *routingSession) Name() string { return s.name }

func (s *routingSession) ListTools(context.Context) ([]session.Tool, error) { return s.tools, nil }

func (s *routingSession) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	*s.calls = append(*s.calls, s.name+"/"+name)
	return s.results[name], nil
}

func (s *routingSession) Close() error { return nil }

func TestRun_RoutesToolCallsAcrossServers(t *testing.T) {
	// Server A exposes list_pipelines, server B exposes get_weather; one model
	// turn requests both. The bridge must route each call to its advertising
	// session and the results must land in history in emission order.
	var calls []string
	a := &routingSession{
		name:    "bitbucket",
		tools:   []session.Tool{{Server: "bitbucket", Name: "list_pipelines", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		calls:   &calls,
		results: map[string]string{"list_pipelines": `{"total":3}`},
	}
	b := &routingSession{
		name:    "weather",
		tools:   []session.Tool{{Server: "weather", Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		calls:   &calls,
		results: map[string]string{"get_weather": `{"temp":31}`},
	}

	reg, err := registry.Build(context.Background(), []session.Session{a, b})
	require.NoError(t, err)
	br := bridge.New(reg, bridge.Options{})

	c := &scriptedCompleter{replies: []dialogue.Message{
		dialogue.Assistant("",
			dialogue.ToolCall{ID: "call-1", Name: "list_pipelines", Arguments: json.RawMessage(`{}`)},
			dialogue.ToolCall{ID: "call-2", Name: "get_weather", Arguments: json.RawMessage(`{}`)},
		),
		dialogue.Assistant("3 pipelines, 31 degrees"),
	}}

	r := NewRunner(c, br, reg.Tools(), nil, nil, Options{})
	res := r.Run(context.Background(), "CI and weather?", QueryOptions{})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"bitbucket/list_pipelines", "weather/get_weather"}, calls)

	// Second model call sees both tool results, in order, tagged with the
	// originating call ids.
	require.Len(t, c.calls, 2)
	history := c.calls[1]
	require.Len(t, history, 4) // user, assistant, tool, tool
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.JSONEq(t, `{"total":3}`, history[2].Content)
	assert.Equal(t, "call-2", history[3].ToolCallID)
	assert.JSONEq(t, `{"temp":31}`, history[3].Content)
}

func TestRun_ModelTimeout(t *testing.T) {
	c := &scriptedCompleter{
		replies: []dialogue.Message{
			dialogue.Assistant("", dialogue.ToolCall{ID: "1", Name: "t", Arguments: json.RawMessage(`{}`)}),
		},
		errs: []error{nil, fmt.Errorf("ollama: chat: %w", context.DeadlineExceeded)},
	}
	r := NewRunner(c, &recordingInvoker{}, nil, nil, nil, Options{})

	res := r.Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, timeoutApology, res.Content)
}

func TestRun_ModelError(t *testing.T) {
	c := &scriptedCompleter{errs: []error{errors.New("connection refused")}}
	r := NewRunner(c, &recordingInvoker{}, nil, nil, nil, Options{})

	res := r.Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, StatusError, res.Status)
	assert.True(t, res.Partial)
	assert.Equal(t, 1, res.Iterations)
	assert.Contains(t, res.Content, "connection refused")
}

func TestRun_ToolFailureDoesNotAbort(t *testing.T) {
	c := &scriptedCompleter{replies: []dialogue.Message{
		dialogue.Assistant("", dialogue.ToolCall{ID: "call-1", Name: "broken", Arguments: json.RawMessage(`{}`)}),
		dialogue.Assistant("recovered"),
	}}
	inv := &recordingInvoker{results: map[string]dialogue.ToolResult{
		"broken": {Content: "Error: tool exploded", IsError: true},
	}}
	r := NewRunner(c, inv, nil, nil, nil, Options{})

	res := r.Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "recovered", res.Content)

	// The failed call's result must be in the history fed to the next model call.
	require.Len(t, c.calls, 2)
	history := c.calls[1]
	require.Len(t, history, 3)
	assert.Equal(t, dialogue.RoleTool, history[2].Role)
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.Contains(t, history[2].Content, "Error:")
}

func TestRun_MaxIterations(t *testing.T) {
	looping := dialogue.Assistant("still digging",
		dialogue.ToolCall{ID: "1", Name: "t", Arguments: json.RawMessage(`{}`)})
	c := &scriptedCompleter{replies: []dialogue.Message{looping, looping, looping}}
	r := NewRunner(c, &recordingInvoker{}, nil, nil, nil, Options{MaxIterations: 3})

	res := r.Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.True(t, res.Partial)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, "still digging", res.Content)
	assert.Len(t, c.calls, 3, "no model call beyond the budget")
}

func TestRun_MaxIterations_NoAssistantText(t *testing.T) {
	looping := dialogue.Assistant("",
		dialogue.ToolCall{ID: "1", Name: "t", Arguments: json.RawMessage(`{}`)})
	c := &scriptedCompleter{replies: []dialogue.Message{looping, looping}}
	r := NewRunner(c, &recordingInvoker{}, nil, nil, nil, Options{MaxIterations: 2})

	res := r.Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, maxIterationsApology, res.Content)
}

func TestRun_SeedsHistory(t *testing.T) {
	st := newMemStore()
	st.sessions["sess-1"] = []dialogue.Message{
		dialogue.User("earlier question"),
		dialogue.Assistant("earlier answer"),
	}

	c := &scriptedCompleter{replies: []dialogue.Message{dialogue.Assistant("done")}}
	r := NewRunner(c, &recordingInvoker{}, nil, st, nil, Options{})

	res := r.Run(context.Background(), "follow-up", QueryOptions{SessionID: "sess-1", UseHistory: true})
	require.Equal(t, StatusSuccess, res.Status)

	require.Len(t, c.calls, 1)
	history := c.calls[0]
	require.Len(t, history, 3)
	assert.Equal(t, "earlier question", history[0].Content)
	assert.Equal(t, "earlier answer", history[1].Content)
	assert.Equal(t, "follow-up", history[2].Content)
}

func TestRun_PersistsMessages(t *testing.T) {
	st := newMemStore()
	c := &scriptedCompleter{replies: []dialogue.Message{
		dialogue.Assistant("", dialogue.ToolCall{ID: "call-1", Name: "t", Arguments: json.RawMessage(`{}`)}),
		dialogue.Assistant("done"),
	}}
	r := NewRunner(c, &recordingInvoker{}, nil, st, nil, Options{})

	r.Run(context.Background(), "q", QueryOptions{SessionID: "sess-9"})

	persisted := st.sessions["sess-9"]
	require.Len(t, persisted, 4) // user, assistant, tool result, assistant
	assert.Equal(t, dialogue.RoleUser, persisted[0].Role)
	assert.Equal(t, dialogue.RoleAssistant, persisted[1].Role)
	assert.Equal(t, dialogue.RoleTool, persisted[2].Role)
	assert.Equal(t, dialogue.RoleAssistant, persisted[3].Role)
}

func TestRun_BrokenStoreDegrades(t *testing.T) {
	st := newMemStore()
	st.loadErr = errors.New("db unavailable")

	c := &scriptedCompleter{replies: []dialogue.Message{dialogue.Assistant("ok")}}
	r := NewRunner(c, &recordingInvoker{}, nil, st, nil, Options{})

	res := r.Run(context.Background(), "q", QueryOptions{SessionID: "s", UseHistory: true})

	assert.Equal(t, StatusSuccess, res.Status)
}

func TestRun_Deterministic(t *testing.T) {
	script := func() *scriptedCompleter {
		return &scriptedCompleter{replies: []dialogue.Message{
			dialogue.Assistant("", dialogue.ToolCall{ID: "1", Name: "t", Arguments: json.RawMessage(`{}`)}),
			dialogue.Assistant("final"),
		}}
	}

	first := NewRunner(script(), &recordingInvoker{}, nil, nil, nil, Options{}).
		Run(context.Background(), "q", QueryOptions{})
	second := NewRunner(script(), &recordingInvoker{}, nil, nil, nil, Options{}).
		Run(context.Background(), "q", QueryOptions{})

	assert.Equal(t, first, second)
}
