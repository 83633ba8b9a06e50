// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"
)

// callRecord is the Go representation of struct call_record from
// tlstap.bpf.c. It matches the exact memory layout of the C struct.
type callRecord struct {
	Cookie      uint64
	TimestampNS uint64
	PID         uint32
	TID         uint32
	Args        [3]uint64
	Ret         int64
}

const callRecordSize = 8 + 8 + 4 + 4 + 8*3 + 8 // 56 bytes

// callCtx adapts a decoded record to the hook.CallContext interface.
// Defined here rather than in package hook so the backend owns the layout.
type callCtx struct {
	rec *callRecord
}

func (c callCtx) PID() uint32 { return c.rec.PID }
func (c callCtx) TID() uint32 { return c.rec.TID }

func (c callCtx) Arg(i int) uint64 {
	if i < 0 || i >= len(c.rec.Args) {
		return 0
	}
	return c.rec.Args[i]
}

func (c callCtx) ReturnValue() int64 { return c.rec.Ret }

// recordReader wraps a BPF ring buffer reader and dispatches decoded call
// records to the cookie-routed callback.
type recordReader struct {
	reader   *ringbuf.Reader
	dispatch func(*callRecord)
	logger   *zap.Logger
}

// newRecordReader creates a ring buffer reader for the given BPF map.
func newRecordReader(recordsMap *ebpf.Map, dispatch func(*callRecord), logger *zap.Logger) (*recordReader, error) {
	rd, err := ringbuf.NewReader(recordsMap)
	if err != nil {
		return nil, fmt.Errorf("create ring buffer reader: %w", err)
	}
	return &recordReader{
		reader:   rd,
		dispatch: dispatch,
		logger:   logger,
	}, nil
}

// readLoop reads records from the ring buffer and dispatches them.
// It blocks until the reader is closed.
func (rr *recordReader) readLoop() {
	for {
		record, err := rr.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			rr.logger.Debug("ring buffer read error", zap.Error(err))
			continue
		}

		rec, ok := decodeCallRecord(record.RawSample)
		if !ok {
			rr.logger.Debug("record too short", zap.Int("len", len(record.RawSample)))
			continue
		}
		rr.dispatch(rec)
	}
}

// decodeCallRecord parses a raw ring buffer sample.
func decodeCallRecord(raw []byte) (*callRecord, bool) {
	if len(raw) < callRecordSize {
		return nil, false
	}

	rec := &callRecord{
		Cookie:      binary.LittleEndian.Uint64(raw[0:8]),
		TimestampNS: binary.LittleEndian.Uint64(raw[8:16]),
		PID:         binary.LittleEndian.Uint32(raw[16:20]),
		TID:         binary.LittleEndian.Uint32(raw[20:24]),
		Ret:         int64(binary.LittleEndian.Uint64(raw[48:56])),
	}
	for i := 0; i < 3; i++ {
		rec.Args[i] = binary.LittleEndian.Uint64(raw[24+8*i : 32+8*i])
	}
	return rec, true
}

// close closes the ring buffer reader, unblocking readLoop.
func (rr *recordReader) close() error {
	return rr.reader.Close()
}
