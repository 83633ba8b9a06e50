// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HandleRegistry maps an opaque TLS session handle (the SSL* pointer identity)
// to its transport descriptor. It is the only owner of that mapping: bind and
// unbind callbacks mutate it, the event builder only reads it.
//
// The registry is capacity bounded. At capacity the least-recently-bound
// handle is evicted; a long-lived session that is still being looked up stays
// resident because lookups refresh recency.
type HandleRegistry struct {
	cache   *lru.Cache[uint64, int32]
	evicted atomic.Int64
}

// NewHandleRegistry creates a registry holding at most maxEntries handles.
func NewHandleRegistry(maxEntries int) (*HandleRegistry, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("registry capacity must be positive, got %d", maxEntries)
	}

	cache, err := lru.New[uint64, int32](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}
	return &HandleRegistry{cache: cache}, nil
}

// Bind inserts or overwrites the handle's descriptor. Idempotent.
func (r *HandleRegistry) Bind(handle uint64, fd int32) {
	if evicted := r.cache.Add(handle, fd); evicted {
		r.evicted.Add(1)
	}
}

// Unbind removes the handle's mapping. No-op if absent.
func (r *HandleRegistry) Unbind(handle uint64) {
	r.cache.Remove(handle)
}

// Lookup returns the bound descriptor, or FDUnknown if the handle was never
// bound or was already unbound. Safe to call concurrently with Bind/Unbind.
func (r *HandleRegistry) Lookup(handle uint64) int32 {
	fd, ok := r.cache.Get(handle)
	if !ok {
		return FDUnknown
	}
	return fd
}

// Len returns the number of bound handles.
func (r *HandleRegistry) Len() int {
	return r.cache.Len()
}

// Evicted returns the number of handles displaced by the capacity bound.
// Explicit unbinds are not counted.
func (r *HandleRegistry) Evicted() int64 {
	return r.evicted.Load()
}
