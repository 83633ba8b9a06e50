// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tlstap/tlstap/pkg/health"
	"go.uber.org/zap"
)

// maxSaneRequestLen is the absolute ceiling on a call's requested length.
// Anything larger is a corrupt or attacker-influenced size and the call is
// not tracked at all. This protects the pending-table entries themselves;
// the per-event capture cap is a separate, configurable policy.
const maxSaneRequestLen = 1 << 30

// Options configure the capture engine.
type Options struct {
	// MaxCaptureSize caps each event's payload in bytes.
	MaxCaptureSize int
	// MaxPendingEntries bounds each direction's pending-call table.
	MaxPendingEntries int
	// MaxHandleEntries bounds the session handle registry.
	MaxHandleEntries int
	// SinkBuffer is the output channel capacity.
	SinkBuffer int
	// SweepInterval is how often orphaned pending entries are reclaimed.
	SweepInterval time.Duration
	// PendingMaxAge is how long a pending entry may wait for its exit.
	PendingMaxAge time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxCaptureSize <= 0 {
		o.MaxCaptureSize = 4096
	}
	if o.MaxPendingEntries <= 0 {
		o.MaxPendingEntries = 32768
	}
	if o.MaxHandleEntries <= 0 {
		o.MaxHandleEntries = 32768
	}
	if o.SinkBuffer <= 0 {
		o.SinkBuffer = 4096
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.PendingMaxAge <= 0 {
		o.PendingMaxAge = time.Minute
	}
}

// Engine is the entry/exit correlation core. It runs synchronously on
// whichever execution context delivers each instrumentation callback, so no
// method may block: every table operation completes in bounded time and the
// sink emit is non-blocking.
//
// All state is process-lifetime only, created on New and torn down on Stop;
// nothing is persisted or rebuilt across attachments.
type Engine struct {
	opts     Options
	logger   *zap.Logger
	stats    *health.Stats
	registry *HandleRegistry
	pending  *PendingCallTable
	builder  *EventBuilder
	sink     *EventSink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine reading captures through mem. stats may be shared
// with other subsystems; it must not be nil.
func New(opts Options, mem MemoryReader, stats *health.Stats, logger *zap.Logger) (*Engine, error) {
	opts.applyDefaults()

	registry, err := NewHandleRegistry(opts.MaxHandleEntries)
	if err != nil {
		return nil, fmt.Errorf("create handle registry: %w", err)
	}

	return &Engine{
		opts:     opts,
		logger:   logger,
		stats:    stats,
		registry: registry,
		pending:  NewPendingCallTable(opts.MaxPendingEntries),
		builder:  NewEventBuilder(registry, mem, opts.MaxCaptureSize),
		sink:     NewEventSink(opts.SinkBuffer),
	}, nil
}

// Start launches the background sweeper that reclaims orphaned pending
// entries (threads that died between entry and exit).
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.sweepLoop(ctx)

	e.logger.Info("capture engine started",
		zap.Int("max_capture_size", e.opts.MaxCaptureSize),
		zap.Int("max_pending_entries", e.opts.MaxPendingEntries),
		zap.Int("max_handle_entries", e.opts.MaxHandleEntries),
	)
}

// Stop halts the sweeper and closes the sink. The caller must have detached
// all instrumentation first so no callback is in flight.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.sink.Close()

	e.logger.Info("capture engine stopped",
		zap.Int64("events_emitted", e.stats.EventsEmitted.Load()),
		zap.Int64("events_dropped", e.stats.EventsDropped.Load()),
		zap.Int64("unmatched_exits", e.stats.UnmatchedExits.Load()),
	)
}

// Events returns the output channel of finished events. It is closed by Stop.
func (e *Engine) Events() <-chan *Event {
	return e.sink.Events()
}

// OnBind records the association of a session handle with a transport
// descriptor (SSL_set_fd).
func (e *Engine) OnBind(handle uint64, fd int32) {
	e.registry.Bind(handle, fd)
	e.stats.BindsObserved.Add(1)
	e.stats.HandlesEvicted.Store(e.registry.Evicted())
}

// OnUnbind drops the handle's association (SSL_free). A later exit on this
// handle reports FDUnknown rather than a stale descriptor.
func (e *Engine) OnUnbind(handle uint64) {
	e.registry.Unbind(handle)
}

// OnCallEntry captures the arguments of an in-flight read or write call.
// Non-positive or absurd requested lengths are not tracked; the matching
// exit will simply find no entry and produce nothing.
func (e *Engine) OnCallEntry(dir Direction, pid, tid uint32, handle, bufAddr uint64, requestedLen int64) {
	if requestedLen <= 0 || requestedLen > maxSaneRequestLen {
		e.stats.UntrackedCalls.Add(1)
		return
	}

	ok := e.pending.Store(dir, pid, tid, PendingCall{
		Handle:       handle,
		BufAddr:      bufAddr,
		RequestedLen: int(requestedLen),
		StoredAt:     time.Now(),
	})
	if !ok {
		e.stats.PendingRejected.Add(1)
	}
}

// OnCallExit correlates an exit with its stored entry, builds the event, and
// emits it. Every failure path here is a counter, never an error to the
// caller: the worst outcome of any problem is a missing event.
func (e *Engine) OnCallExit(dir Direction, pid, tid uint32, ret int64) {
	call, ok := e.pending.Take(dir, pid, tid)
	if !ok {
		e.stats.UnmatchedExits.Add(1)
		return
	}

	ev, err := e.builder.Build(dir, pid, tid, call, ret)
	if err != nil {
		e.stats.ReadFailures.Add(1)
		e.logger.Debug("capture read failed", zap.Uint32("pid", pid), zap.Error(err))
		return
	}
	if ev == nil {
		return
	}

	if e.sink.Emit(ev) {
		e.stats.EventsEmitted.Add(1)
	} else {
		e.stats.EventsDropped.Add(1)
	}
}

// PendingLen reports the pending-table size for one direction.
func (e *Engine) PendingLen(dir Direction) int {
	return e.pending.Len(dir)
}

// BoundHandles reports the number of live handle bindings.
func (e *Engine) BoundHandles() int {
	return e.registry.Len()
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := e.pending.Sweep(e.opts.PendingMaxAge); n > 0 {
				e.stats.PendingSwept.Add(int64(n))
				e.logger.Debug("swept orphaned pending calls", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
