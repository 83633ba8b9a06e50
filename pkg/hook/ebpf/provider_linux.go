// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package ebpf

import (
	"context"
	"fmt"
	"sync"

	"github.com/tlstap/tlstap/pkg/config"
	"github.com/tlstap/tlstap/pkg/hook"
	"go.uber.org/zap"
)

// Backend implements hook.Backend using eBPF uprobes and a ring buffer.
// Two generic BPF programs serve every hooked function; the per-attachment
// uprobe cookie tells the ring buffer reader which callback a record
// belongs to.
type Backend struct {
	cfg    config.HookConfig
	logger *zap.Logger

	mu         sync.Mutex
	bindings   []probeBinding
	byCookie   map[uint64]routedHook
	nextCookie uint64
	started    bool

	loader  *loader
	reader  *recordReader
	scanner *libScanner

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// routedHook holds exactly one of entry or exit.
type routedHook struct {
	entry hook.EntryFunc
	exit  hook.ExitFunc
}

var (
	_ hook.Backend = (*Backend)(nil)
	_ hook.Runner  = (*Backend)(nil)
)

// NewBackend creates an eBPF backend. Nothing is loaded or attached until
// Start is called; register hooks first.
func NewBackend(cfg config.HookConfig, logger *zap.Logger) hook.Backend {
	return &Backend{
		cfg:      cfg,
		logger:   logger,
		byCookie: make(map[uint64]routedHook),
	}
}

// AttachEntry registers fn to run when function is entered.
func (b *Backend) AttachEntry(function string, fn hook.EntryFunc) error {
	return b.register(function, routedHook{entry: fn}, false)
}

// AttachExit registers fn to run when function returns.
func (b *Backend) AttachExit(function string, fn hook.ExitFunc) error {
	return b.register(function, routedHook{exit: fn}, true)
}

func (b *Backend) register(function string, r routedHook, isRet bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("cannot register %s: backend already started", function)
	}

	b.nextCookie++
	cookie := b.nextCookie
	b.byCookie[cookie] = r
	b.bindings = append(b.bindings, probeBinding{
		symbol: function,
		cookie: cookie,
		isRet:  isRet,
	})
	return nil
}

// DetachAll removes every installed probe and drops the registrations.
// The backend can be re-registered and started again afterwards only if
// Start has not yet run; a started backend is done after Stop.
func (b *Backend) DetachAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loader != nil {
		b.loader.close()
	}
	b.bindings = nil
	b.byCookie = make(map[uint64]routedHook)
	return nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "ebpf"
}

// Start loads the BPF object, begins reading the ring buffer, and attaches
// the registered hooks to TLS libraries — either the configured paths or
// whatever the process scanner discovers.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("backend already started")
	}
	b.started = true
	bindings := b.bindings
	b.mu.Unlock()

	if len(bindings) == 0 {
		return fmt.Errorf("no hooks registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.loader = newLoader(b.logger)
	if err := b.loader.load(b.cfg.ObjectPath); err != nil {
		cancel()
		return err
	}

	reader, err := newRecordReader(b.loader.recordRingBuf(), b.route, b.logger)
	if err != nil {
		b.loader.close()
		cancel()
		return err
	}
	b.reader = reader

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		reader.readLoop()
	}()

	if len(b.cfg.LibraryPaths) > 0 {
		// Pinned libraries: attach directly, no discovery.
		for _, lib := range b.cfg.LibraryPaths {
			if err := b.loader.attachLibrary(lib, bindings); err != nil {
				b.logger.Warn("failed to instrument configured library",
					zap.String("lib", lib), zap.Error(err))
			}
		}
	} else {
		b.scanner = newLibScanner(b.loader, bindings, b.cfg.ScanInterval, b.logger)
		b.scanner.start(ctx)
	}

	b.logger.Info("eBPF backend started",
		zap.String("object", b.cfg.ObjectPath),
		zap.Int("hooks", len(bindings)),
	)
	return nil
}

// Stop detaches all probes and releases eBPF resources.
func (b *Backend) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	// Close the ring buffer reader first — this unblocks readLoop.
	if b.reader != nil {
		b.reader.close()
	}
	b.wg.Wait()

	if b.scanner != nil {
		b.scanner.stop()
	}

	if b.loader != nil {
		b.loader.close()
	}

	b.logger.Info("eBPF backend stopped")
	return nil
}

// route dispatches a decoded ring buffer record to its registered callback.
// Runs on the single reader goroutine.
func (b *Backend) route(rec *callRecord) {
	b.mu.Lock()
	r, ok := b.byCookie[rec.Cookie]
	b.mu.Unlock()
	if !ok {
		return
	}

	ctx := callCtx{rec: rec}
	switch {
	case r.entry != nil:
		r.entry(ctx)
	case r.exit != nil:
		r.exit(ctx)
	}
}
