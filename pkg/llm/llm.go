// Package llm defines the model capability the agent loop consumes.
package llm

import (
	"context"

	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/hamzilla/mcp/pkg/tools/session"
)

// Completer sends a conversation to a model and returns the assistant's
// reply. The tools parameter declares which tools the model may request;
// implementations bind them on every call so the registry stays the single
// source of truth.
type Completer interface {
	Complete(ctx context.Context, msgs []dialogue.Message, tools []session.Tool) (dialogue.Message, error)
}
