// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the tap. Every failure path in
// the capture core surfaces here and nowhere else — errors never propagate
// into the monitored program.
type Stats struct {
	startTime time.Time

	EventsEmitted   atomic.Int64
	EventsDropped   atomic.Int64
	EventsExported  atomic.Int64
	ExportFailures  atomic.Int64
	ReadFailures    atomic.Int64
	UnmatchedExits  atomic.Int64
	UntrackedCalls  atomic.Int64
	PendingRejected atomic.Int64
	PendingSwept    atomic.Int64
	HandlesEvicted  atomic.Int64
	BindsObserved   atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns tap uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds   float64
	Goroutines      int
	MemoryRSSBytes  uint64
	EventsEmitted   int64
	EventsDropped   int64
	EventsExported  int64
	ExportFailures  int64
	ReadFailures    int64
	UnmatchedExits  int64
	UntrackedCalls  int64
	PendingRejected int64
	PendingSwept    int64
	HandlesEvicted  int64
	BindsObserved   int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		UptimeSeconds:   s.Uptime().Seconds(),
		Goroutines:      runtime.NumGoroutine(),
		MemoryRSSBytes:  memStats.Sys,
		EventsEmitted:   s.EventsEmitted.Load(),
		EventsDropped:   s.EventsDropped.Load(),
		EventsExported:  s.EventsExported.Load(),
		ExportFailures:  s.ExportFailures.Load(),
		ReadFailures:    s.ReadFailures.Load(),
		UnmatchedExits:  s.UnmatchedExits.Load(),
		UntrackedCalls:  s.UntrackedCalls.Load(),
		PendingRejected: s.PendingRejected.Load(),
		PendingSwept:    s.PendingSwept.Load(),
		HandlesEvicted:  s.HandlesEvicted.Load(),
		BindsObserved:   s.BindsObserved.Load(),
	}
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	return prometheusFormat(snap)
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "tlstap_uptime_seconds", "gauge", "Tap uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "tlstap_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "tlstap_memory_rss_bytes", "gauge", "Memory usage in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "tlstap_events_emitted_total", "counter", "Events accepted by the sink", float64(snap.EventsEmitted))
	b = appendMetric(b, "tlstap_events_dropped_total", "counter", "Events dropped by a full sink", float64(snap.EventsDropped))
	b = appendMetric(b, "tlstap_events_exported_total", "counter", "Events handed to exporters", float64(snap.EventsExported))
	b = appendMetric(b, "tlstap_export_failures_total", "counter", "Exporter flush failures", float64(snap.ExportFailures))
	b = appendMetric(b, "tlstap_read_failures_total", "counter", "Capture memory read failures", float64(snap.ReadFailures))
	b = appendMetric(b, "tlstap_unmatched_exits_total", "counter", "Call exits with no pending entry", float64(snap.UnmatchedExits))
	b = appendMetric(b, "tlstap_untracked_calls_total", "counter", "Entries skipped by the length sanity check", float64(snap.UntrackedCalls))
	b = appendMetric(b, "tlstap_pending_rejected_total", "counter", "Entries rejected by the pending-table capacity bound", float64(snap.PendingRejected))
	b = appendMetric(b, "tlstap_pending_swept_total", "counter", "Orphaned pending entries reclaimed by the sweeper", float64(snap.PendingSwept))
	b = appendMetric(b, "tlstap_handles_evicted_total", "counter", "Session handles displaced by the registry bound", float64(snap.HandlesEvicted))
	b = appendMetric(b, "tlstap_binds_observed_total", "counter", "Handle bind calls observed", float64(snap.BindsObserved))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, f float64) []byte {
	// Use simple formatting; avoid importing strconv for this
	if f == float64(int64(f)) {
		return append(b, []byte(intToStr(int64(f)))...)
	}
	return append(b, []byte(floatToStr(f))...)
}

func intToStr(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte(n%10) + '0'
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func floatToStr(f float64) string {
	// Simple 6 decimal place formatting
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := int64((f - float64(whole)) * 1000000)
	if frac < 0 {
		frac = -frac
	}

	s := intToStr(whole) + "."
	fracStr := intToStr(frac)
	// Pad to 6 digits
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	s += fracStr

	// Trim trailing zeros after decimal
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}

	if neg {
		s = "-" + s
	}
	return s
}
