// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"strings"
	"testing"
)

func TestPreviewMasksNonPrintable(t *testing.T) {
	got := preview([]byte{'G', 'E', 'T', 0x00, 0x16, '\n', 'x'})
	if got != "GET...x" {
		t.Errorf("preview = %q, want %q", got, "GET...x")
	}
}

func TestPreviewTruncatesLongPayloads(t *testing.T) {
	got := preview([]byte(strings.Repeat("a", previewLen+10)))
	if len(got) != previewLen+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("long payload preview = %q (len %d)", got, len(got))
	}
}

func TestNewStdoutExporterDefaultsFormat(t *testing.T) {
	e := NewStdoutExporter("")
	if e.format != "text" {
		t.Errorf("format = %q, want text", e.format)
	}
}
