// Package manager owns the lifecycle of all MCP sessions for a configured
// set of servers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hamzilla/mcp/pkg/config"
	"github.com/hamzilla/mcp/pkg/tools/session"
)

// DialFunc opens a session to one server. Injectable for tests; the default
// is session.Connect.
type DialFunc func(ctx context.Context, cfg config.ServerConfig) (session.Session, error)

// Manager opens, owns, and closes the sessions for a declared server set.
// Sessions are never handed out for ownership: callers route calls through
// the registry and bridge, and the manager alone closes them.
type Manager struct {
	dial DialFunc
	log  *slog.Logger

	order  []session.Session
	byName map[string]session.Session
}

// New creates a Manager. A nil dial falls back to session.Connect; a nil
// logger discards.
func New(dial DialFunc, log *slog.Logger) *Manager {
	if dial == nil {
		dial = func(ctx context.Context, cfg config.ServerConfig) (session.Session, error) {
			return session.Connect(ctx, cfg)
		}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		dial:   dial,
		log:    log,
		byName: make(map[string]session.Session),
	}
}

// Connect opens sessions for every enabled descriptor in declaration order.
// It fails fast: the first connection failure closes every session opened in
// this call (reverse order) and returns the error, so a partial session set
// never survives. Disabled descriptors are skipped entirely.
func (m *Manager) Connect(ctx context.Context, cfgs []config.ServerConfig) error {
	if len(m.order) > 0 {
		return errors.New("manager: already connected; rebuild requires a fresh manager")
	}

	for _, cfg := range cfgs {
		if cfg.Disabled {
			m.log.Debug("skipping disabled server", "server", cfg.Name)
			continue
		}

		s, err := m.dial(ctx, cfg)
		if err != nil {
			m.rollback()
			return fmt.Errorf("manager: connect %q: %w", cfg.Name, err)
		}

		m.order = append(m.order, s)
		m.byName[cfg.Name] = s
		m.log.Info("connected to server", "server", cfg.Name, "transport", cfg.Transport)
	}

	return nil
}

// Session returns the session for the given server name.
func (m *Manager) Session(name string) (session.Session, bool) {
	s, ok := m.byName[name]
	return s, ok
}

// Sessions returns the owned sessions in acquisition order.
func (m *Manager) Sessions() []session.Session {
	out := make([]session.Session, len(m.order))
	copy(out, m.order)
	return out
}

// Shutdown closes all owned sessions in reverse acquisition order and joins
// any close errors. Safe to call after a failed Connect and safe to call
// more than once.
func (m *Manager) Shutdown() error {
	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.order[i]
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("manager: close %q: %w", s.Name(), err))
		}
		m.log.Debug("closed session", "server", s.Name())
	}
	m.order = nil
	m.byName = make(map[string]session.Session)
	return errors.Join(errs...)
}

// rollback closes sessions opened so far during a failed Connect, in reverse
// order. Close errors are logged, not returned: the connect error is the one
// that matters to the caller.
func (m *Manager) rollback() {
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.order[i]
		if err := s.Close(); err != nil {
			m.log.Warn("close during rollback failed", "server", s.Name(), "error", err)
		}
	}
	m.order = nil
	m.byName = make(map[string]session.Session)
}
