// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "testing"

func TestDefaultTargetsCoverAliases(t *testing.T) {
	targets := DefaultTargets()

	roles := make(map[string]Role, len(targets))
	for _, tgt := range targets {
		roles[tgt.Symbol] = tgt.Role
	}

	// The _ex variants must carry the same role as their base call.
	if roles["SSL_write"] != RoleWrite || roles["SSL_write_ex"] != RoleWrite {
		t.Error("SSL_write and SSL_write_ex should both be write targets")
	}
	if roles["SSL_read"] != RoleRead || roles["SSL_read_ex"] != RoleRead {
		t.Error("SSL_read and SSL_read_ex should both be read targets")
	}
	if roles["SSL_set_fd"] != RoleBind {
		t.Error("SSL_set_fd should be the bind target")
	}
	if roles["SSL_free"] != RoleUnbind {
		t.Error("SSL_free should be the unbind target")
	}
}

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets(map[string]string{
		"SSL_write": "write",
		"SSL_read":  "read",
		"SSL_set_fd": "bind",
	})
	if err != nil {
		t.Fatalf("ParseTargets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("len = %d, want 3", len(targets))
	}
	// Sorted by symbol for deterministic attach order
	if targets[0].Symbol != "SSL_read" {
		t.Errorf("first target = %s, want SSL_read", targets[0].Symbol)
	}
}

func TestParseTargetsEmptyUsesDefaults(t *testing.T) {
	targets, err := ParseTargets(nil)
	if err != nil {
		t.Fatalf("ParseTargets(nil): %v", err)
	}
	if len(targets) != len(DefaultTargets()) {
		t.Errorf("len = %d, want %d", len(targets), len(DefaultTargets()))
	}
}

func TestParseTargetsBadRole(t *testing.T) {
	if _, err := ParseTargets(map[string]string{"SSL_write": "exfiltrate"}); err == nil {
		t.Error("unknown role should fail")
	}
	if _, err := ParseTargets(map[string]string{"": "write"}); err == nil {
		t.Error("empty symbol should fail")
	}
}

func TestRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleWrite, RoleRead, RoleBind, RoleUnbind} {
		got, err := RoleFromString(role.String())
		if err != nil {
			t.Errorf("RoleFromString(%q): %v", role.String(), err)
		}
		if got != role {
			t.Errorf("round trip %v = %v", role, got)
		}
	}
}
