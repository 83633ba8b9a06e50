// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"sync"
	"sync/atomic"
)

// EventSink is the producer side of the output transport: a bounded channel
// of finished events. Emit never blocks — when the consumer is not draining
// fast enough the event is dropped and counted, because the instrumented
// program's execution path must never wait on us.
type EventSink struct {
	ch        chan *Event
	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewEventSink creates a sink with the given channel capacity.
func NewEventSink(capacity int) *EventSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventSink{ch: make(chan *Event, capacity)}
}

// Emit enqueues the event without blocking. It reports whether the event was
// accepted; on false the event was dropped and counted.
func (s *EventSink) Emit(ev *Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Events returns the consumer side of the sink. The channel is closed by
// Close once no further events will be emitted.
func (s *EventSink) Events() <-chan *Event {
	return s.ch
}

// Dropped returns the number of events rejected by a full channel.
func (s *EventSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel. The caller must guarantee no Emit is in flight
// or will follow.
func (s *EventSink) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
