// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// Program and map names — must match bpf/tlstap.bpf.c.
const (
	progEntryName  = "tlstap_entry"
	progExitName   = "tlstap_exit"
	recordsMapName = "call_records"
)

// probeBinding ties a function symbol to the cookie its records will carry.
type probeBinding struct {
	symbol string
	cookie uint64
	isRet  bool
}

// loader manages BPF object lifecycle: loading the compiled object from disk
// and attaching uprobes/uretprobes to shared libraries.
type loader struct {
	coll   *ebpf.Collection
	links  []link.Link
	logger *zap.Logger
}

// newLoader creates a loader but does not yet load anything.
func newLoader(logger *zap.Logger) *loader {
	return &loader{logger: logger}
}

// load reads the compiled eBPF object from objectPath and loads its programs
// and maps into the kernel.
func (l *loader) load(objectPath string) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return fmt.Errorf("load BPF spec %s: %w", objectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("load BPF objects: %w", err)
	}

	for _, name := range []string{progEntryName, progExitName} {
		if coll.Programs[name] == nil {
			coll.Close()
			return fmt.Errorf("BPF object missing program %s", name)
		}
	}
	if coll.Maps[recordsMapName] == nil {
		coll.Close()
		return fmt.Errorf("BPF object missing map %s", recordsMapName)
	}

	l.coll = coll
	return nil
}

// attachLibrary attaches the generic entry/exit programs to every binding's
// symbol in the given shared library. Each attachment carries the binding's
// cookie so the ring buffer reader can route records back to the right
// callback. Missing symbols are skipped with a warning — a library may ship
// only a subset of the configured functions.
func (l *loader) attachLibrary(libPath string, bindings []probeBinding) error {
	ex, err := link.OpenExecutable(libPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", libPath, err)
	}

	attached := 0
	for _, b := range bindings {
		opts := &link.UprobeOptions{Cookie: b.cookie}

		var lnk link.Link
		if b.isRet {
			lnk, err = ex.Uretprobe(b.symbol, l.coll.Programs[progExitName], opts)
		} else {
			lnk, err = ex.Uprobe(b.symbol, l.coll.Programs[progEntryName], opts)
		}
		if err != nil {
			l.logger.Warn("failed to attach uprobe",
				zap.String("symbol", b.symbol),
				zap.String("lib", libPath),
				zap.Bool("ret", b.isRet),
				zap.Error(err),
			)
			continue
		}

		l.links = append(l.links, lnk)
		attached++
		kind := "uprobe"
		if b.isRet {
			kind = "uretprobe"
		}
		l.logger.Debug("attached probe",
			zap.String("kind", kind),
			zap.String("symbol", b.symbol),
			zap.String("lib", libPath),
		)
	}

	if attached == 0 {
		return fmt.Errorf("no symbols attached in %s", libPath)
	}
	return nil
}

// recordRingBuf returns the ring buffer map for the record reader.
func (l *loader) recordRingBuf() *ebpf.Map {
	return l.coll.Maps[recordsMapName]
}

// close releases all probes, links, and BPF objects.
func (l *loader) close() {
	for _, lnk := range l.links {
		lnk.Close()
	}
	l.links = nil

	if l.coll != nil {
		l.coll.Close()
		l.coll = nil
	}
}
