// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/tlstap/tlstap/pkg/probe"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

func attrByKey(attrs []*commonpb.KeyValue, key string) *commonpb.AnyValue {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

func TestConvertEvent(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	ev := &probe.Event{
		Timestamp: ts,
		PID:       1234,
		TID:       5678,
		FD:        9,
		Direction: probe.DirectionOutbound,
		TotalLen:  100,
		Truncated: true,
		Data:      []byte("GET / HTTP/1.1"),
	}

	rec := convertEvent(ev)

	if rec.TimeUnixNano != uint64(ts.UnixNano()) {
		t.Errorf("TimeUnixNano = %d, want %d", rec.TimeUnixNano, ts.UnixNano())
	}
	body, ok := rec.Body.Value.(*commonpb.AnyValue_BytesValue)
	if !ok {
		t.Fatalf("body should be bytes, got %T", rec.Body.Value)
	}
	if !bytes.Equal(body.BytesValue, ev.Data) {
		t.Error("body should carry the captured payload")
	}

	if v := attrByKey(rec.Attributes, "tls.direction"); v == nil || v.GetStringValue() != "outbound" {
		t.Error("tls.direction attribute missing or wrong")
	}
	if v := attrByKey(rec.Attributes, "process.pid"); v == nil || v.GetIntValue() != 1234 {
		t.Error("process.pid attribute missing or wrong")
	}
	if v := attrByKey(rec.Attributes, "network.fd"); v == nil || v.GetIntValue() != 9 {
		t.Error("network.fd attribute missing or wrong")
	}
	if v := attrByKey(rec.Attributes, "tls.total_len"); v == nil || v.GetIntValue() != 100 {
		t.Error("tls.total_len attribute missing or wrong")
	}
	if v := attrByKey(rec.Attributes, "tls.truncated"); v == nil || !v.GetBoolValue() {
		t.Error("tls.truncated attribute missing or wrong")
	}
}

func TestConvertEventUnknownFD(t *testing.T) {
	ev := &probe.Event{
		Timestamp: time.Now(),
		FD:        probe.FDUnknown,
		Direction: probe.DirectionInbound,
		TotalLen:  1,
		Data:      []byte{0x16},
	}

	rec := convertEvent(ev)
	if v := attrByKey(rec.Attributes, "network.fd"); v == nil || v.GetIntValue() != -1 {
		t.Error("unknown descriptor should export as -1")
	}
}
