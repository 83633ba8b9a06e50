// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "context"

// CallContext is one instrumentation callback's view of the triggering call,
// independent of processor architecture or calling convention.
type CallContext interface {
	// PID returns the process id of the triggering execution context.
	PID() uint32
	// TID returns the thread id of the triggering execution context.
	TID() uint32
	// Arg returns the i-th ordered integer argument, zero when absent.
	Arg(i int) uint64
	// ReturnValue returns the call's return code. Exit callbacks only;
	// entry callbacks see zero.
	ReturnValue() int64
}

// EntryFunc is invoked when a hooked function is entered.
type EntryFunc func(ctx CallContext)

// ExitFunc is invoked when a hooked function returns.
type ExitFunc func(ctx CallContext)

// Backend installs entry and exit hooks on named functions. How hooks are
// physically installed (uprobes, binary patching, preload shims) is the
// implementation's business; callbacks fire on the monitored program's own
// execution contexts and must never block.
type Backend interface {
	// AttachEntry registers fn to run at function's entry.
	AttachEntry(function string, fn EntryFunc) error

	// AttachExit registers fn to run at function's return.
	AttachExit(function string, fn ExitFunc) error

	// DetachAll removes every installed hook.
	DetachAll() error

	// Name returns the backend name (e.g., "ebpf", "stub").
	Name() string
}

// Runner is an optional interface for backends that need an explicit
// lifecycle beyond attach/detach — loading programs, discovering libraries,
// pumping an event loop. Use a type assertion:
//
//	if r, ok := backend.(hook.Runner); ok {
//	    r.Start(ctx)
//	}
type Runner interface {
	// Start begins delivering callbacks registered via AttachEntry/AttachExit.
	Start(ctx context.Context) error

	// Stop halts delivery and releases backend resources.
	Stop() error
}
