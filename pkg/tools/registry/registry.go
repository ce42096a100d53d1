// Package registry aggregates the tools advertised by all connected sessions
// into one routable namespace.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamzilla/mcp/pkg/tools/session"
)

// ErrToolNotFound is returned by Resolve for names absent from the registry.
var ErrToolNotFound = errors.New("registry: tool not found")

// Entry pairs a tool descriptor with the session that advertised it.
type Entry struct {
	Session session.Session
	Tool    session.Tool
}

// Registry is an immutable name→(session, tool) mapping built once from a
// set of live sessions. Rebuilding requires a fresh connection cycle.
type Registry struct {
	entries   map[string]Entry
	order     []string                  // tool names in registration order
	servers   []string                  // server names in connection order
	inventory map[string][]session.Tool // per-server listing, for diagnostics
}

// Build lists each session's tools once and merges them. A tool name
// advertised by two servers is rejected with an error naming both: silent
// last-wins routing would make cross-server queries ambiguous.
func Build(ctx context.Context, sessions []session.Session) (*Registry, error) {
	r := &Registry{
		entries:   make(map[string]Entry),
		inventory: make(map[string][]session.Tool),
	}

	for _, s := range sessions {
		tools, err := s.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: list tools on %q: %w", s.Name(), err)
		}

		r.servers = append(r.servers, s.Name())
		r.inventory[s.Name()] = tools

		for _, t := range tools {
			if prev, dup := r.entries[t.Name]; dup {
				return nil, fmt.Errorf("registry: tool %q advertised by both %q and %q",
					t.Name, prev.Tool.Server, s.Name())
			}
			r.entries[t.Name] = Entry{Session: s, Tool: t}
			r.order = append(r.order, t.Name)
		}
	}

	return r, nil
}

// Resolve returns the entry for a tool name, or ErrToolNotFound.
func (r *Registry) Resolve(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return e, nil
}

// Tools returns all registered tool descriptors in registration order, for
// binding to the model.
func (r *Registry) Tools() []session.Tool {
	out := make([]session.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].Tool)
	}
	return out
}

// Servers returns the server names in connection order.
func (r *Registry) Servers() []string {
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}

// Inventory returns the per-server tool listing used to build the registry.
func (r *Registry) Inventory() map[string][]session.Tool {
	out := make(map[string][]session.Tool, len(r.inventory))
	for name, tools := range r.inventory {
		cp := make([]session.Tool, len(tools))
		copy(cp, tools)
		out[name] = cp
	}
	return out
}
