// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"sync"
	"sync/atomic"
	"time"
)

// PendingCall holds the arguments captured at call entry until the matching
// exit fires on the same thread.
type PendingCall struct {
	Handle       uint64
	BufAddr      uint64
	RequestedLen int
	StoredAt     time.Time
}

// PendingCallTable tracks in-flight calls, one table per direction, keyed by
// the triggering thread. Under the one-in-flight-call-per-thread-per-direction
// model distinct keys never race, so each table only needs per-key atomicity.
//
// Capacity policy: a new key is rejected once the table is at capacity
// (exits that are never observed must not grow the table without bound), and
// Sweep reclaims entries whose exit never arrived. Overwriting an existing
// key is always allowed — a stale entry for the same thread is exactly what
// last-write-wins is for.
type PendingCallTable struct {
	maxPerDirection int
	outbound        pendingDir
	inbound         pendingDir
}

type pendingDir struct {
	calls sync.Map // uint64(pid)<<32|tid -> *PendingCall
	count atomic.Int64
}

// NewPendingCallTable creates a table bounded to maxPerDirection entries in
// each direction.
func NewPendingCallTable(maxPerDirection int) *PendingCallTable {
	return &PendingCallTable{maxPerDirection: maxPerDirection}
}

func (t *PendingCallTable) dir(d Direction) *pendingDir {
	if d == DirectionInbound {
		return &t.inbound
	}
	return &t.outbound
}

func threadKey(pid, tid uint32) uint64 {
	return uint64(pid)<<32 | uint64(tid)
}

// Store records a pending call for (dir, pid, tid), overwriting any stale
// prior entry for the same thread. It reports false when the call was
// rejected by the capacity bound.
//
// The capacity check is advisory: concurrent stores may overshoot the bound
// by at most the number of storing threads, which is acceptable for a limit
// that exists to prevent unbounded growth, not to enforce an exact count.
func (t *PendingCallTable) Store(dir Direction, pid, tid uint32, call PendingCall) bool {
	d := t.dir(dir)
	key := threadKey(pid, tid)

	if _, loaded := d.calls.Load(key); loaded {
		d.calls.Store(key, &call)
		return true
	}

	if d.count.Load() >= int64(t.maxPerDirection) {
		return false
	}

	d.calls.Store(key, &call)
	d.count.Add(1)
	return true
}

// Take atomically removes and returns the pending call for (dir, pid, tid).
// An exit with no observed entry is the normal miss case: the probe attached
// mid-call, or the entry was swept.
func (t *PendingCallTable) Take(dir Direction, pid, tid uint32) (PendingCall, bool) {
	d := t.dir(dir)

	v, loaded := d.calls.LoadAndDelete(threadKey(pid, tid))
	if !loaded {
		return PendingCall{}, false
	}
	d.count.Add(-1)
	return *(v.(*PendingCall)), true
}

// Len returns the number of pending calls in one direction.
func (t *PendingCallTable) Len(dir Direction) int {
	return int(t.dir(dir).count.Load())
}

// Sweep removes entries older than maxAge from both directions and returns
// how many were reclaimed. Orphans accumulate when a thread dies between
// entry and exit, or when the monitored process is killed mid-call.
func (t *PendingCallTable) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, d := range []*pendingDir{&t.outbound, &t.inbound} {
		d.calls.Range(func(key, value any) bool {
			call := value.(*PendingCall)
			if call.StoredAt.Before(cutoff) {
				// CompareAndDelete so a concurrent overwrite or Take of the
				// same key is never miscounted.
				if d.calls.CompareAndDelete(key, value) {
					d.count.Add(-1)
					removed++
				}
			}
			return true
		})
	}

	return removed
}
