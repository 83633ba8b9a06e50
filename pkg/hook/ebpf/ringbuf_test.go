// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"encoding/binary"
	"testing"
)

func encodeRecord(rec callRecord) []byte {
	raw := make([]byte, callRecordSize)
	binary.LittleEndian.PutUint64(raw[0:8], rec.Cookie)
	binary.LittleEndian.PutUint64(raw[8:16], rec.TimestampNS)
	binary.LittleEndian.PutUint32(raw[16:20], rec.PID)
	binary.LittleEndian.PutUint32(raw[20:24], rec.TID)
	for i, a := range rec.Args {
		binary.LittleEndian.PutUint64(raw[24+8*i:32+8*i], a)
	}
	binary.LittleEndian.PutUint64(raw[48:56], uint64(rec.Ret))
	return raw
}

func TestDecodeCallRecord(t *testing.T) {
	want := callRecord{
		Cookie:      7,
		TimestampNS: 123456789,
		PID:         100,
		TID:         200,
		Args:        [3]uint64{0xdead, 0xbeef, 4096},
		Ret:         -11,
	}

	got, ok := decodeCallRecord(encodeRecord(want))
	if !ok {
		t.Fatal("decodeCallRecord rejected a full-size record")
	}
	if *got != want {
		t.Errorf("decoded %+v, want %+v", *got, want)
	}
}

func TestDecodeCallRecordTooShort(t *testing.T) {
	if _, ok := decodeCallRecord(make([]byte, callRecordSize-1)); ok {
		t.Error("decodeCallRecord should reject short samples")
	}
}

func TestCallCtxArgBounds(t *testing.T) {
	ctx := callCtx{rec: &callRecord{Args: [3]uint64{1, 2, 3}, Ret: 9}}
	if ctx.Arg(0) != 1 || ctx.Arg(2) != 3 {
		t.Error("Arg should return positional arguments")
	}
	if ctx.Arg(3) != 0 || ctx.Arg(-1) != 0 {
		t.Error("Arg out of range should return zero")
	}
	if ctx.ReturnValue() != 9 {
		t.Errorf("ReturnValue = %d, want 9", ctx.ReturnValue())
	}
}

func TestExtractTLSLibPath(t *testing.T) {
	// Non-executable mapping is ignored.
	line := "7f0000000000-7f0000001000 r--p 00000000 fd:01 123 /usr/lib/libssl.so.3"
	if got := extractTLSLibPath(line); got != "" {
		t.Errorf("non-executable mapping should be skipped, got %q", got)
	}

	// Unrelated library is ignored.
	line = "7f0000000000-7f0000001000 r-xp 00000000 fd:01 123 /usr/lib/libcrypto.so.3"
	if got := extractTLSLibPath(line); got != "" {
		t.Errorf("libcrypto should be skipped, got %q", got)
	}

	// Executable libssl mapping whose file does not exist is skipped too.
	line = "7f0000000000-7f0000001000 r-xp 00000000 fd:01 123 /nonexistent/libssl.so.3"
	if got := extractTLSLibPath(line); got != "" {
		t.Errorf("missing file should be skipped, got %q", got)
	}
}
