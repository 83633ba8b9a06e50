// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"fmt"
	"time"
)

// FDUnknown is the descriptor sentinel returned when a session handle was
// never bound to a transport descriptor, or was already unbound.
const FDUnknown int32 = -1

// Direction describes which side of the plaintext/ciphertext boundary a
// capture was taken from, relative to the instrumented process.
type Direction uint8

const (
	// DirectionOutbound is plaintext captured before encryption (SSL_write).
	DirectionOutbound Direction = iota + 1
	// DirectionInbound is plaintext captured after decryption (SSL_read).
	DirectionInbound
)

func (d Direction) String() string {
	switch d {
	case DirectionOutbound:
		return "outbound"
	case DirectionInbound:
		return "inbound"
	default:
		return fmt.Sprintf("unknown-%d", uint8(d))
	}
}

// Event is one completed TLS library call, built by the EventBuilder and
// immutable afterwards. Ownership transfers to the sink consumer on emission.
type Event struct {
	Timestamp time.Time
	PID       uint32
	TID       uint32
	FD        int32 // FDUnknown when the handle was never bound
	Direction Direction

	// TotalLen is the logical transfer size implied by the call's return
	// code. When it exceeds len(Data), Truncated is set.
	TotalLen  int
	Truncated bool
	Data      []byte
}

// CaptureLen returns the number of bytes actually captured.
func (e *Event) CaptureLen() int {
	return len(e.Data)
}
