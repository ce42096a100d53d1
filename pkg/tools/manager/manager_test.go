package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/hamzilla/mcp/pkg/config"
	"github.com/hamzilla/mcp/pkg/tools/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records close calls into a shared log so tests can assert
// ordering across sessions.
type fakeSession struct {
	name     string
	closeLog *[]string
	closeErr error
}

func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) ListTools(context.Context) ([]session.Tool, error) { return nil, nil }

func (f *fakeSession) CallTool(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

func (f *fakeSession) Close() error {
	*f.closeLog = append(*f.closeLog, f.name)
	return f.closeErr
}

func fakeDial(closeLog *[]string, failOn map[string]error) DialFunc {
	return func(_ context.Context, cfg config.ServerConfig) (session.Session, error) {
		if err, ok := failOn[cfg.Name]; ok {
			return nil, err
		}
		return &fakeSession{name: cfg.Name, closeLog: closeLog}, nil
	}
}

func servers(names ...string) []config.ServerConfig {
	out := make([]config.ServerConfig, 0, len(names))
	for _, n := range names {
		out = append(out, config.ServerConfig{Name: n, Transport: config.TransportStdio, Command: "true"})
	}
	return out
}

func TestConnect_AllServers(t *testing.T) {
	var closed []string
	m := New(fakeDial(&closed, nil), nil)

	require.NoError(t, m.Connect(context.Background(), servers("a", "b", "c")))

	assert.Len(t, m.Sessions(), 3)
	for _, name := range []string{"a", "b", "c"} {
		_, ok := m.Session(name)
		assert.True(t, ok, "session %q", name)
	}
}

func TestConnect_SkipsDisabled(t *testing.T) {
	var closed []string
	m := New(fakeDial(&closed, nil), nil)

	cfgs := servers("a", "b", "c")
	cfgs[1].Disabled = true

	require.NoError(t, m.Connect(context.Background(), cfgs))

	assert.Len(t, m.Sessions(), 2)
	_, ok := m.Session("b")
	assert.False(t, ok)
}

func TestConnect_FailFastRollsBack(t *testing.T) {
	// Three configured servers; the second fails to connect. The first must
	// be closed before the error propagates, and the third never dialed.
	var closed []string
	m := New(fakeDial(&closed, map[string]error{"b": errors.New("handshake refused")}), nil)

	err := m.Connect(context.Background(), servers("a", "b", "c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `connect "b"`)

	assert.Equal(t, []string{"a"}, closed)
	assert.Empty(t, m.Sessions())
}

func TestConnect_Twice(t *testing.T) {
	var closed []string
	m := New(fakeDial(&closed, nil), nil)

	require.NoError(t, m.Connect(context.Background(), servers("a")))
	assert.Error(t, m.Connect(context.Background(), servers("b")))
}

func TestShutdown_ReverseOrder(t *testing.T) {
	var closed []string
	m := New(fakeDial(&closed, nil), nil)

	require.NoError(t, m.Connect(context.Background(), servers("a", "b", "c")))
	require.NoError(t, m.Shutdown())

	assert.Equal(t, []string{"c", "b", "a"}, closed)
	assert.Empty(t, m.Sessions())
}

func TestShutdown_JoinsCloseErrors(t *testing.T) {
	var closed []string
	dial := func(_ context.Context, cfg config.ServerConfig) (session.Session, error) {
		var closeErr error
		if cfg.Name == "b" {
			closeErr = errors.New("already gone")
		}
		return &fakeSession{name: cfg.Name, closeLog: &closed, closeErr: closeErr}, nil
	}
	m := New(dial, nil)

	require.NoError(t, m.Connect(context.Background(), servers("a", "b")))

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `close "b"`)
	assert.Equal(t, []string{"b", "a"}, closed)
}

func TestShutdown_Idempotent(t *testing.T) {
	var closed []string
	m := New(fakeDial(&closed, nil), nil)

	require.NoError(t, m.Connect(context.Background(), servers("a")))
	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())

	assert.Equal(t, []string{"a"}, closed)
}
