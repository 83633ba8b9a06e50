// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLibScannerKeepsLogger(t *testing.T) {
	logger := zap.NewNop()
	s := newLibScanner(newLoader(logger), nil, 0, logger)

	if s.logger == nil {
		t.Fatal("scanner logger not set by constructor")
	}
}

func TestAttachOnceRetriesAfterFailure(t *testing.T) {
	logger := zap.NewNop()
	s := newLibScanner(newLoader(logger), nil, 0, logger)

	// Attachment fails (path does not exist), so the path must be released
	// for a later scan to retry rather than marked attached forever.
	s.attachOnce("/nonexistent/libssl.so.3", 1)

	s.mu.Lock()
	marked := s.attached["/nonexistent/libssl.so.3"]
	s.mu.Unlock()
	if marked {
		t.Error("failed attachment left path marked as attached")
	}
}
