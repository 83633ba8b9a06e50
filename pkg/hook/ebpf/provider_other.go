// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package ebpf

import (
	"github.com/tlstap/tlstap/pkg/config"
	"github.com/tlstap/tlstap/pkg/hook"
	"go.uber.org/zap"
)

// NewBackend on non-Linux platforms returns a stub backend since eBPF
// is not available.
func NewBackend(cfg config.HookConfig, logger *zap.Logger) hook.Backend {
	return NewStubBackend("eBPF requires Linux", logger)
}
