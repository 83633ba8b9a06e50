// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// libScanner discovers libssl.so in running processes and asks the loader to
// instrument each distinct library file. Uprobes bind to the file, not the
// process, so one attachment covers every current and future user of that
// library.
type libScanner struct {
	loader   *loader
	bindings []probeBinding
	interval time.Duration
	logger   *zap.Logger

	// Track which library paths we've already attached to avoid duplicates.
	mu       sync.Mutex
	attached map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// newLibScanner creates a scanner that attaches the given bindings to every
// TLS library it finds.
func newLibScanner(loader *loader, bindings []probeBinding, interval time.Duration, logger *zap.Logger) *libScanner {
	return &libScanner{
		loader:   loader,
		bindings: bindings,
		interval: interval,
		logger:   logger,
		attached: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// start performs an initial scan and then rescans periodically so processes
// started after the agent are picked up.
func (s *libScanner) start(ctx context.Context) {
	s.scanAll()

	if s.interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.scanAll()
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// stop halts the periodic rescan. Attached uprobes are owned by the loader
// and released there.
func (s *libScanner) stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// scanAll walks all running processes and instruments any TLS library found.
func (s *libScanner) scanAll() {
	pids, err := process.Pids()
	if err != nil {
		s.logger.Debug("cannot list processes for library scan", zap.Error(err))
		return
	}

	for _, pid := range pids {
		s.scanProcess(uint32(pid))
	}
}

// scanProcess reads /proc/<pid>/maps and attaches probes to any TLS library
// mapped executable there.
func (s *libScanner) scanProcess(pid uint32) {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(mapsPath)
	if err != nil {
		return // process may have exited
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		libPath := extractTLSLibPath(scanner.Text())
		if libPath == "" {
			continue
		}
		s.attachOnce(libPath, pid)
	}
}

// attachOnce instruments a library path exactly once. On failure the path is
// released so a later scan can retry.
func (s *libScanner) attachOnce(libPath string, pid uint32) {
	s.mu.Lock()
	if s.attached[libPath] {
		s.mu.Unlock()
		return
	}
	s.attached[libPath] = true
	s.mu.Unlock()

	if err := s.loader.attachLibrary(libPath, s.bindings); err != nil {
		s.logger.Debug("failed to instrument library",
			zap.String("lib", libPath),
			zap.Uint32("pid", pid),
			zap.Error(err),
		)
		s.mu.Lock()
		delete(s.attached, libPath)
		s.mu.Unlock()
		return
	}

	s.logger.Info("instrumented TLS library",
		zap.String("lib", libPath),
		zap.Uint32("pid", pid),
	)
}

// extractTLSLibPath extracts a libssl.so path from a /proc/pid/maps line.
// Returns empty string if the line doesn't reference libssl.
func extractTLSLibPath(line string) string {
	// /proc/pid/maps format:
	// 7f...  r-xp 00000000 ... /usr/lib/x86_64-linux-gnu/libssl.so.3
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return ""
	}

	// Only look at executable mappings (r-xp)
	perms := fields[1]
	if len(perms) < 3 || perms[2] != 'x' {
		return ""
	}

	path := fields[len(fields)-1]
	base := filepath.Base(path)

	// Match libssl.so, libssl.so.1.1, libssl.so.3, etc.
	if strings.HasPrefix(base, "libssl.so") {
		// Verify the file exists (it might be in a container namespace)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
