// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"sort"
)

// Role describes what a hooked function does to the plaintext boundary.
type Role uint8

const (
	// RoleWrite is an outbound call: plaintext in, ciphertext out (SSL_write).
	RoleWrite Role = iota + 1
	// RoleRead is an inbound call: ciphertext in, plaintext out (SSL_read).
	RoleRead
	// RoleBind associates a session handle with a descriptor (SSL_set_fd).
	RoleBind
	// RoleUnbind drops a session handle (SSL_free).
	RoleUnbind
)

func (r Role) String() string {
	switch r {
	case RoleWrite:
		return "write"
	case RoleRead:
		return "read"
	case RoleBind:
		return "bind"
	case RoleUnbind:
		return "unbind"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// RoleFromString parses a role name as it appears in configuration.
func RoleFromString(s string) (Role, error) {
	switch s {
	case "write":
		return RoleWrite, nil
	case "read":
		return RoleRead, nil
	case "bind":
		return RoleBind, nil
	case "unbind":
		return RoleUnbind, nil
	default:
		return 0, fmt.Errorf("unknown hook role %q", s)
	}
}

// Target names one function to hook and its role. The "_ex" OpenSSL variants
// get their own targets with the same role: correlation is keyed by
// (direction, thread), so a base call and its _ex alias share the same
// pending table and behave identically.
type Target struct {
	Symbol string
	Role   Role
}

// DefaultTargets covers OpenSSL 1.0 through 3.x.
func DefaultTargets() []Target {
	return []Target{
		{Symbol: "SSL_set_fd", Role: RoleBind},
		{Symbol: "SSL_free", Role: RoleUnbind},
		{Symbol: "SSL_write", Role: RoleWrite},
		{Symbol: "SSL_write_ex", Role: RoleWrite},
		{Symbol: "SSL_read", Role: RoleRead},
		{Symbol: "SSL_read_ex", Role: RoleRead},
	}
}

// ParseTargets converts the config map {symbol: role name} into a target
// list, sorted by symbol for deterministic attach order.
func ParseTargets(m map[string]string) ([]Target, error) {
	if len(m) == 0 {
		return DefaultTargets(), nil
	}

	targets := make([]Target, 0, len(m))
	for sym, roleName := range m {
		if sym == "" {
			return nil, fmt.Errorf("empty hook target symbol")
		}
		role, err := RoleFromString(roleName)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", sym, err)
		}
		targets = append(targets, Target{Symbol: sym, Role: role})
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Symbol < targets[j].Symbol })
	return targets, nil
}
