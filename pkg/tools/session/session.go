// Package session provides the live handle to one MCP tool server.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/hamzilla/mcp/pkg/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NoResult is the sentinel returned when a tool call produces no content.
const NoResult = "No result"

// Tool describes one callable operation advertised by a server, tagged with
// the name of the server that owns it.
type Tool struct {
	Server      string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Session is the capability set the core consumes from one tool server.
// Implementations serialize calls: the underlying transport supports one
// in-flight request at a time.
type Session interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// MCPSession is a Session backed by the official MCP Go SDK. The mutex
// serializes calls from concurrent conversations against the single transport.
type MCPSession struct {
	name    string
	client  *mcp.Client
	session *mcp.ClientSession

	mu sync.Mutex
}

// Compile-time check that *MCPSession implements Session.
var _ Session = (*MCPSession)(nil)

// Connect opens a session to the server described by cfg, dispatching on its
// transport kind. The SDK performs the initialize handshake during Connect;
// the connect timeout bounds the whole handshake.
func Connect(ctx context.Context, cfg config.ServerConfig) (*MCPSession, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	var transport mcp.Transport
	switch cfg.Transport {
	case config.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...) //nolint:gosec // command comes from operator configuration
		cmd.Dir = cfg.Dir
		transport = &mcp.CommandTransport{Command: cmd}
	case config.TransportHTTP:
		transport = &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: newHTTPClient(cfg),
		}
	default:
		return nil, fmt.Errorf("session: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	return NewFromTransport(ctx, cfg.Name, transport)
}

// NewFromTransport creates an MCPSession over the given transport. Used by
// Connect and useful for testing with InMemoryTransport.
func NewFromTransport(ctx context.Context, name string, transport mcp.Transport) (*MCPSession, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcpchat",
		Version: "0.1.0",
	}, nil)

	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("session: connect %q: %w", name, err)
	}

	return &MCPSession{name: name, client: client, session: cs}, nil
}

// Name returns the server name this session is bound to.
func (s *MCPSession) Name() string { return s.name }

// ListTools fetches the server's advertised tools, tagging each descriptor
// with the session's server name.
func (s *MCPSession) ListTools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: list tools on %q: %w", s.name, err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("session: marshal schema of %q: %w", t.Name, err)
		}
		tools = append(tools, Tool{
			Server:      s.name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return tools, nil
}

// CallTool invokes a named tool and returns its first text content item, or
// the NoResult sentinel when the result carries no content. A remote tool
// error becomes an error carrying the server's error text.
func (s *MCPSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("session: call %q on %q: %w", name, s.name, err)
	}

	text := firstText(result)

	if result.IsError {
		return "", fmt.Errorf("session: tool %q failed: %s", name, text)
	}

	return text, nil
}

// Close terminates the session. The SDK owns subprocess teardown for stdio
// transports: closing the session closes stdin and escalates to SIGTERM and
// SIGKILL if the child does not exit.
func (s *MCPSession) Close() error {
	return s.session.Close()
}

// firstText returns the first TextContent item, or NoResult if there is none.
func firstText(result *mcp.CallToolResult) string {
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return NoResult
}

// newHTTPClient builds the http.Client for a remote-stream server: read
// timeout plus static headers (already env-expanded at config load) applied
// to every request.
func newHTTPClient(cfg config.ServerConfig) *http.Client {
	client := &http.Client{
		Timeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
	}
	if len(cfg.Headers) > 0 {
		client.Transport = &headerTransport{
			base:    http.DefaultTransport,
			headers: cfg.Headers,
		}
	}
	return client
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}
