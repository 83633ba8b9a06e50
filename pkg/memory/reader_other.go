// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package memory

import "fmt"

// ProcReader is unavailable off Linux; every read fails.
type ProcReader struct{}

// NewProcReader creates a process memory reader.
func NewProcReader() *ProcReader {
	return &ProcReader{}
}

// ReadBytes always fails on this platform.
func (r *ProcReader) ReadBytes(pid uint32, addr uint64, n int) ([]byte, error) {
	return nil, fmt.Errorf("process memory reads require Linux")
}
