// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcReader copies bytes out of another process's address space with
// process_vm_readv(2). Requires CAP_SYS_PTRACE (or same-uid ptrace access)
// against the monitored process.
type ProcReader struct{}

// NewProcReader creates a process memory reader.
func NewProcReader() *ProcReader {
	return &ProcReader{}
}

// ReadBytes copies n bytes at addr from pid. The read is all-or-nothing: a
// short read is reported as an error because a partial capture is not a
// usable event payload.
func (r *ProcReader) ReadBytes(pid uint32, addr uint64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: n}}

	nr, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv pid %d addr 0x%x: %w", pid, addr, err)
	}
	if nr != n {
		return nil, fmt.Errorf("short read from pid %d: %d of %d bytes", pid, nr, n)
	}
	return buf, nil
}
