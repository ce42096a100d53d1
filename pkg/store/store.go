// Package store persists conversation history keyed by a session identifier.
package store

import (
	"context"

	"github.com/hamzilla/mcp/pkg/dialogue"
)

// Store is the optional persistence capability the agent loop consumes.
type Store interface {
	// Append records one message at the end of the session's history.
	Append(ctx context.Context, sessionID string, msg dialogue.Message) error
	// Load returns the session's history in insertion order. An unknown
	// session id yields an empty history, not an error.
	Load(ctx context.Context, sessionID string) ([]dialogue.Message, error)
}
