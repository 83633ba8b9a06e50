// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"fmt"
	"time"
)

// MemoryReader copies bytes out of a monitored process's address space.
// Reads can fail at any time: the address may be unmapped, access may be
// denied, or the process may already be gone.
type MemoryReader interface {
	ReadBytes(pid uint32, addr uint64, n int) ([]byte, error)
}

// EventBuilder converts a completed call (entry arguments plus return code)
// into a bounded Event, applying the capture cap and truncation policy.
type EventBuilder struct {
	registry       *HandleRegistry
	mem            MemoryReader
	maxCaptureSize int
}

// NewEventBuilder creates a builder capping each event's payload at
// maxCaptureSize bytes.
func NewEventBuilder(registry *HandleRegistry, mem MemoryReader, maxCaptureSize int) *EventBuilder {
	return &EventBuilder{
		registry:       registry,
		mem:            mem,
		maxCaptureSize: maxCaptureSize,
	}
}

// Build produces the Event for one completed call.
//
// It returns (nil, nil) when the call is skipped: a non-positive return code
// means no data was transferred. A non-nil error means the capture read
// failed, in which case no event is produced either — a garbage payload is
// strictly worse than a missing one.
//
// Oversized transfers are clamped to the capture cap and flagged truncated
// rather than dropped: a bounded sample of a bulk transfer is still useful.
func (b *EventBuilder) Build(dir Direction, pid, tid uint32, call PendingCall, ret int64) (*Event, error) {
	if ret <= 0 {
		return nil, nil
	}

	totalLen := int(ret)
	captureLen := totalLen
	if dir == DirectionInbound && captureLen > call.RequestedLen {
		// A read call never delivers more than the caller's buffer holds.
		captureLen = call.RequestedLen
	}
	if captureLen > b.maxCaptureSize {
		captureLen = b.maxCaptureSize
	}
	truncated := totalLen > captureLen

	// An unbound handle is a normal outcome, recorded as FDUnknown.
	fd := b.registry.Lookup(call.Handle)

	var data []byte
	if captureLen > 0 {
		var err error
		data, err = b.mem.ReadBytes(pid, call.BufAddr, captureLen)
		if err != nil {
			return nil, fmt.Errorf("read %d bytes at 0x%x from pid %d: %w", captureLen, call.BufAddr, pid, err)
		}
	}

	return &Event{
		Timestamp: time.Now(),
		PID:       pid,
		TID:       tid,
		FD:        fd,
		Direction: dir,
		TotalLen:  totalLen,
		Truncated: truncated,
		Data:      data,
	}, nil
}
