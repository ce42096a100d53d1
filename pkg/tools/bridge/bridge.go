// Package bridge converts model-issued tool calls into remote calls on the
// owning session, with schema-aware argument handling and error capture.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/hamzilla/mcp/pkg/tools/registry"
)

// Options configures a Bridge.
type Options struct {
	// CallTimeout bounds each remote tool call. Zero disables the timeout,
	// matching servers that legitimately run long.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Bridge routes one tool call to the session that advertised the tool. Invoke
// never fails: every error is captured in the returned result so the agent
// loop can feed it back to the model as ordinary dialogue content.
type Bridge struct {
	reg         *registry.Registry
	callTimeout time.Duration
	log         *slog.Logger
}

// New creates a Bridge over the given registry.
func New(reg *registry.Registry, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		reg:         reg,
		callTimeout: opts.CallTimeout,
		log:         log,
	}
}

// Invoke resolves the call's tool, coerces its arguments against the declared
// input schema, dispatches it, and returns the normalized result. Failures of
// any kind come back as an error-marked result, never as a panic or error.
func (b *Bridge) Invoke(ctx context.Context, call dialogue.ToolCall) dialogue.ToolResult {
	start := time.Now()

	entry, err := b.reg.Resolve(call.Name)
	if err != nil {
		b.log.Warn("tool call for unknown tool", "tool", call.Name, "call_id", call.ID)
		return errorResult(call.ID, err, time.Since(start))
	}

	args := coerceArgs(entry.Tool.InputSchema, call.Arguments)

	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	text, err := entry.Session.CallTool(callCtx, call.Name, args)
	elapsed := time.Since(start)
	if err != nil {
		b.log.Warn("tool call failed",
			"tool", call.Name, "server", entry.Tool.Server, "call_id", call.ID,
			"elapsed", elapsed, "error", err)
		return errorResult(call.ID, err, elapsed)
	}

	b.log.Debug("tool call completed",
		"tool", call.Name, "server", entry.Tool.Server, "call_id", call.ID,
		"elapsed", elapsed)

	return dialogue.ToolResult{
		ToolCallID: call.ID,
		Content:    text,
		Elapsed:    elapsed,
	}
}

// errorResult wraps a failure as dialogue content the model can react to.
func errorResult(callID string, err error, elapsed time.Duration) dialogue.ToolResult {
	return dialogue.ToolResult{
		ToolCallID: callID,
		Content:    "Error: " + err.Error(),
		IsError:    true,
		Elapsed:    elapsed,
	}
}
