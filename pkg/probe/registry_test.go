// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package probe

import (
	"sync"
	"testing"
)

func TestRegistryBindLookup(t *testing.T) {
	r, err := NewHandleRegistry(16)
	if err != nil {
		t.Fatalf("NewHandleRegistry: %v", err)
	}

	r.Bind(0x1, 5)
	if fd := r.Lookup(0x1); fd != 5 {
		t.Errorf("Lookup(0x1) = %d, want 5", fd)
	}

	// Rebinding overwrites
	r.Bind(0x1, 9)
	if fd := r.Lookup(0x1); fd != 9 {
		t.Errorf("Lookup(0x1) after rebind = %d, want 9", fd)
	}

	if fd := r.Lookup(0x2); fd != FDUnknown {
		t.Errorf("Lookup(unbound) = %d, want %d", fd, FDUnknown)
	}
}

func TestRegistryUnbind(t *testing.T) {
	r, _ := NewHandleRegistry(16)

	r.Bind(0xabc, 3)
	r.Unbind(0xabc)

	if fd := r.Lookup(0xabc); fd != FDUnknown {
		t.Errorf("Lookup after Unbind = %d, want %d", fd, FDUnknown)
	}

	// Unbinding an absent handle is a no-op
	r.Unbind(0xdef)
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryCapacityEviction(t *testing.T) {
	r, _ := NewHandleRegistry(3)

	r.Bind(1, 10)
	r.Bind(2, 20)
	r.Bind(3, 30)
	r.Bind(4, 40) // displaces handle 1, the least recently bound

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if fd := r.Lookup(1); fd != FDUnknown {
		t.Errorf("Lookup(evicted) = %d, want %d", fd, FDUnknown)
	}
	if fd := r.Lookup(4); fd != 40 {
		t.Errorf("Lookup(4) = %d, want 40", fd)
	}
	if r.Evicted() != 1 {
		t.Errorf("Evicted = %d, want 1", r.Evicted())
	}
}

func TestRegistryInvalidCapacity(t *testing.T) {
	if _, err := NewHandleRegistry(0); err == nil {
		t.Error("NewHandleRegistry(0) should fail")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r, _ := NewHandleRegistry(1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for j := uint64(0); j < 100; j++ {
				h := base*1000 + j
				r.Bind(h, int32(j))
				if fd := r.Lookup(h); fd != int32(j) && fd != FDUnknown {
					t.Errorf("Lookup(%d) = %d, want %d", h, fd, j)
				}
				r.Unbind(h)
			}
		}(uint64(i))
	}
	wg.Wait()
}
