// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"strings"
	"testing"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	stats := NewStats()
	stats.EventsEmitted.Add(10)
	stats.EventsDropped.Add(2)
	stats.PendingRejected.Add(1)
	stats.HandlesEvicted.Add(4)

	snap := stats.Snapshot()
	if snap.EventsEmitted != 10 {
		t.Errorf("EventsEmitted = %d, want 10", snap.EventsEmitted)
	}
	if snap.EventsDropped != 2 {
		t.Errorf("EventsDropped = %d, want 2", snap.EventsDropped)
	}
	if snap.PendingRejected != 1 {
		t.Errorf("PendingRejected = %d, want 1", snap.PendingRejected)
	}
	if snap.HandlesEvicted != 4 {
		t.Errorf("HandlesEvicted = %d, want 4", snap.HandlesEvicted)
	}
	if snap.UptimeSeconds < 0 {
		t.Error("uptime should not be negative")
	}
}

func TestPrometheusMetricsFormat(t *testing.T) {
	stats := NewStats()
	stats.UnmatchedExits.Add(7)

	out := stats.PrometheusMetrics()
	if !strings.Contains(out, "# TYPE tlstap_unmatched_exits_total counter") {
		t.Error("missing TYPE line for unmatched exits counter")
	}
	if !strings.Contains(out, "tlstap_unmatched_exits_total 7") {
		t.Error("missing unmatched exits sample")
	}
}
