// Package ollama implements llm.Completer against the Ollama chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/hamzilla/mcp/pkg/llm"
	"github.com/hamzilla/mcp/pkg/tools/session"
)

// Compile-time check that *Client implements llm.Completer.
var _ llm.Completer = (*Client)(nil)

// Client talks to an Ollama server's /api/chat endpoint, non-streaming.
type Client struct {
	BaseURL     string
	Model       string
	Temperature float64
	HTTPClient  *http.Client // falls back to http.DefaultClient
}

// New creates a Client for the given base URL and model.
func New(baseURL, model string, temperature float64) *Client {
	return &Client{
		BaseURL:     baseURL,
		Model:       model,
		Temperature: temperature,
	}
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Tools    []wireTool     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message wireMessage `json:"message"`
}

// Complete sends the conversation and the bound tool declarations, returning
// the assistant's reply. Tool calls in the reply get generated ids: Ollama
// does not assign them, and the loop needs ids to tag results.
func (c *Client) Complete(ctx context.Context, msgs []dialogue.Message, tools []session.Tool) (dialogue.Message, error) {
	req := chatRequest{
		Model:    c.Model,
		Messages: toWire(msgs),
		Tools:    toWireTools(tools),
		Stream:   false,
		Options:  map[string]any{"temperature": c.Temperature},
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/api/chat", req, &resp); err != nil {
		return dialogue.Message{}, fmt.Errorf("ollama: chat: %w", err)
	}

	calls := make([]dialogue.ToolCall, 0, len(resp.Message.ToolCalls))
	for _, tc := range resp.Message.ToolCalls {
		calls = append(calls, dialogue.ToolCall{
			ID:        uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return dialogue.Assistant(resp.Message.Content, calls...), nil
}

func toWire(msgs []dialogue.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Function: wireFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []session.Tool) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// postJSON marshals payload, POSTs it, checks for 2xx, and decodes into dest.
func (c *Client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
