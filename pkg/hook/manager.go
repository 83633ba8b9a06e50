// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"

	"github.com/tlstap/tlstap/pkg/probe"
	"go.uber.org/zap"
)

// Manager wires a Backend's raw entry/exit callbacks into the capture
// engine. Argument positions follow the OpenSSL I/O call shape
// f(SSL *ssl, void *buf, num): handle, buffer address, requested length.
// Bind targets follow SSL_set_fd(SSL *ssl, int fd).
type Manager struct {
	backend Backend
	engine  *probe.Engine
	targets []Target
	logger  *zap.Logger
}

// NewManager creates a manager attaching targets on backend and dispatching
// into engine.
func NewManager(backend Backend, engine *probe.Engine, targets []Target, logger *zap.Logger) *Manager {
	if len(targets) == 0 {
		targets = DefaultTargets()
	}
	return &Manager{
		backend: backend,
		engine:  engine,
		targets: targets,
		logger:  logger,
	}
}

// Attach installs hooks for every configured target.
func (m *Manager) Attach() error {
	for _, t := range m.targets {
		if err := m.attachTarget(t); err != nil {
			return fmt.Errorf("attach %s (%s): %w", t.Symbol, t.Role, err)
		}
		m.logger.Debug("hook target attached",
			zap.String("symbol", t.Symbol),
			zap.String("role", t.Role.String()),
		)
	}

	m.logger.Info("hook targets attached",
		zap.String("backend", m.backend.Name()),
		zap.Int("targets", len(m.targets)),
	)
	return nil
}

// Detach removes all installed hooks.
func (m *Manager) Detach() error {
	return m.backend.DetachAll()
}

func (m *Manager) attachTarget(t Target) error {
	switch t.Role {
	case RoleBind:
		return m.backend.AttachEntry(t.Symbol, func(c CallContext) {
			m.engine.OnBind(c.Arg(0), int32(c.Arg(1)))
		})

	case RoleUnbind:
		return m.backend.AttachEntry(t.Symbol, func(c CallContext) {
			m.engine.OnUnbind(c.Arg(0))
		})

	case RoleWrite:
		return m.attachIO(t.Symbol, probe.DirectionOutbound)

	case RoleRead:
		return m.attachIO(t.Symbol, probe.DirectionInbound)

	default:
		return fmt.Errorf("unhandled role %d", t.Role)
	}
}

func (m *Manager) attachIO(symbol string, dir probe.Direction) error {
	err := m.backend.AttachEntry(symbol, func(c CallContext) {
		m.engine.OnCallEntry(dir, c.PID(), c.TID(), c.Arg(0), c.Arg(1), int64(c.Arg(2)))
	})
	if err != nil {
		return err
	}

	return m.backend.AttachExit(symbol, func(c CallContext) {
		m.engine.OnCallExit(dir, c.PID(), c.TID(), c.ReturnValue())
	})
}
