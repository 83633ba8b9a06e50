// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// fakeMemory serves reads from an in-memory address map. Addresses not
// present fail, like an unmapped page would.
type fakeMemory struct {
	pages map[uint64][]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{pages: make(map[uint64][]byte)}
}

func (m *fakeMemory) put(addr uint64, data []byte) {
	m.pages[addr] = data
}

func (m *fakeMemory) ReadBytes(_ uint32, addr uint64, n int) ([]byte, error) {
	data, ok := m.pages[addr]
	if !ok || n > len(data) {
		return nil, errors.New("address not mapped")
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, nil
}

func newTestBuilder(t *testing.T, mem MemoryReader, maxCapture int) (*EventBuilder, *HandleRegistry) {
	t.Helper()
	reg, err := NewHandleRegistry(64)
	if err != nil {
		t.Fatalf("NewHandleRegistry: %v", err)
	}
	return NewEventBuilder(reg, mem, maxCapture), reg
}

func TestBuildOutboundFullCapture(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, []byte("hello"))

	b, reg := newTestBuilder(t, mem, 512)
	reg.Bind(0x1, 5)

	call := PendingCall{Handle: 0x1, BufAddr: 0x1000, RequestedLen: 5, StoredAt: time.Now()}
	ev, err := b.Build(DirectionOutbound, 42, 7, call, 5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ev == nil {
		t.Fatal("Build skipped a valid call")
	}

	if ev.Direction != DirectionOutbound {
		t.Errorf("Direction = %v, want outbound", ev.Direction)
	}
	if ev.FD != 5 {
		t.Errorf("FD = %d, want 5", ev.FD)
	}
	if ev.TotalLen != 5 || ev.CaptureLen() != 5 {
		t.Errorf("TotalLen/CaptureLen = %d/%d, want 5/5", ev.TotalLen, ev.CaptureLen())
	}
	if ev.Truncated {
		t.Error("Truncated should be false")
	}
	if !bytes.Equal(ev.Data, []byte("hello")) {
		t.Errorf("Data = %q, want %q", ev.Data, "hello")
	}
	if ev.PID != 42 || ev.TID != 7 {
		t.Errorf("PID/TID = %d/%d, want 42/7", ev.PID, ev.TID)
	}
}

func TestBuildTruncation(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, []byte("hello"))

	b, reg := newTestBuilder(t, mem, 3)
	reg.Bind(0x1, 5)

	call := PendingCall{Handle: 0x1, BufAddr: 0x1000, RequestedLen: 5, StoredAt: time.Now()}
	ev, err := b.Build(DirectionOutbound, 42, 7, call, 5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if ev.CaptureLen() != 3 {
		t.Errorf("CaptureLen = %d, want 3", ev.CaptureLen())
	}
	if !ev.Truncated {
		t.Error("Truncated should be true")
	}
	if ev.TotalLen != 5 {
		t.Errorf("TotalLen = %d, want 5", ev.TotalLen)
	}
	if !bytes.Equal(ev.Data, []byte("hel")) {
		t.Errorf("Data = %q, want %q", ev.Data, "hel")
	}
}

func TestBuildInboundClampsToRequested(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x2000, []byte("abcdefgh"))

	b, _ := newTestBuilder(t, mem, 512)

	// Return code claims more than the caller's buffer could hold; the
	// capture must not read past the requested length.
	call := PendingCall{Handle: 0x9, BufAddr: 0x2000, RequestedLen: 4, StoredAt: time.Now()}
	ev, err := b.Build(DirectionInbound, 1, 1, call, 8)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if ev.CaptureLen() != 4 {
		t.Errorf("CaptureLen = %d, want 4", ev.CaptureLen())
	}
	if !ev.Truncated {
		t.Error("Truncated should be true when totalLen exceeds captureLen")
	}
	if !bytes.Equal(ev.Data, []byte("abcd")) {
		t.Errorf("Data = %q, want %q", ev.Data, "abcd")
	}
}

func TestBuildNonPositiveReturnSkips(t *testing.T) {
	b, _ := newTestBuilder(t, newFakeMemory(), 512)

	call := PendingCall{Handle: 0x1, BufAddr: 0x1000, RequestedLen: 5, StoredAt: time.Now()}
	for _, ret := range []int64{0, -1, -11} {
		ev, err := b.Build(DirectionOutbound, 1, 1, call, ret)
		if err != nil {
			t.Errorf("Build(ret=%d) error: %v", ret, err)
		}
		if ev != nil {
			t.Errorf("Build(ret=%d) produced an event", ret)
		}
	}
}

func TestBuildUnboundHandle(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, []byte("data"))

	b, _ := newTestBuilder(t, mem, 512)

	call := PendingCall{Handle: 0xdead, BufAddr: 0x1000, RequestedLen: 4, StoredAt: time.Now()}
	ev, err := b.Build(DirectionOutbound, 1, 1, call, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ev.FD != FDUnknown {
		t.Errorf("FD = %d, want %d", ev.FD, FDUnknown)
	}
}

func TestBuildReadFailureSkips(t *testing.T) {
	b, reg := newTestBuilder(t, newFakeMemory(), 512)
	reg.Bind(0x1, 5)

	call := PendingCall{Handle: 0x1, BufAddr: 0xbad, RequestedLen: 16, StoredAt: time.Now()}
	ev, err := b.Build(DirectionOutbound, 1, 1, call, 16)
	if err == nil {
		t.Fatal("Build should fail when the memory read fails")
	}
	if ev != nil {
		t.Error("no event should be produced on a failed read")
	}
}
