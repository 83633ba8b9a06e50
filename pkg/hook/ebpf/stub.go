// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package ebpf

import (
	"context"

	"github.com/tlstap/tlstap/pkg/hook"
	"go.uber.org/zap"
)

// StubBackend is a no-op hook.Backend for platforms where eBPF is not
// available (macOS, Windows, or Linux kernels < 5.8). The agent starts
// normally — exporters and the health server work. Only capture is
// unavailable.
type StubBackend struct {
	reason string
	logger *zap.Logger
}

var (
	_ hook.Backend = (*StubBackend)(nil)
	_ hook.Runner  = (*StubBackend)(nil)
)

// NewStubBackend creates a stub backend that records why eBPF is unavailable.
func NewStubBackend(reason string, logger *zap.Logger) *StubBackend {
	return &StubBackend{reason: reason, logger: logger}
}

func (s *StubBackend) AttachEntry(string, hook.EntryFunc) error { return nil }

func (s *StubBackend) AttachExit(string, hook.ExitFunc) error { return nil }

func (s *StubBackend) DetachAll() error { return nil }

func (s *StubBackend) Name() string { return "stub" }

func (s *StubBackend) Start(_ context.Context) error {
	s.logger.Warn("TLS capture unavailable — running in stub mode",
		zap.String("reason", s.reason),
	)
	return nil
}

func (s *StubBackend) Stop() error { return nil }
