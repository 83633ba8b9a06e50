// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tlstap/tlstap/pkg/probe"
)

// StdoutExporter prints capture events to stdout for debugging.
type StdoutExporter struct {
	format string // "text" or "json"
}

// NewStdoutExporter creates a new stdout exporter.
func NewStdoutExporter(format string) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	return &StdoutExporter{format: format}
}

// ExportEvents prints events to stdout.
func (e *StdoutExporter) ExportEvents(ctx context.Context, events []*probe.Event) error {
	for _, ev := range events {
		if e.format == "json" {
			e.printJSON(ev)
			continue
		}

		trunc := ""
		if ev.Truncated {
			trunc = " (truncated)"
		}
		fmt.Fprintf(os.Stdout,
			"[%s] pid=%d tid=%d fd=%d len=%d/%d%s %s\n",
			ev.Direction, ev.PID, ev.TID, ev.FD,
			ev.CaptureLen(), ev.TotalLen, trunc,
			preview(ev.Data),
		)
	}
	return nil
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}

func (e *StdoutExporter) printJSON(ev *probe.Event) {
	b, _ := json.Marshal(map[string]interface{}{
		"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
		"direction": ev.Direction.String(),
		"pid":       ev.PID,
		"tid":       ev.TID,
		"fd":        ev.FD,
		"total_len": ev.TotalLen,
		"truncated": ev.Truncated,
		"data":      ev.Data, // base64 per encoding/json []byte rules
	})
	fmt.Fprintf(os.Stdout, "%s\n", b)
}

const previewLen = 64

// preview renders the leading payload bytes, masking non-printable ones so
// binary TLS payloads don't mangle the terminal.
func preview(data []byte) string {
	n := len(data)
	if n > previewLen {
		n = previewLen
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c := data[i]
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	if len(data) > previewLen {
		return string(out) + "..."
	}
	return string(out)
}
