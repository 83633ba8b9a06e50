// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package ebpf

import "fmt"

// Support describes the level of eBPF support available on this system.
type Support struct {
	Available     bool
	KernelVersion string
	HasBTF        bool
	Reason        string // non-empty when Available is false
}

// parseKernelVersion extracts major.minor from a kernel version string.
func parseKernelVersion(version string) (major, minor int, err error) {
	n, err := fmt.Sscanf(version, "%d.%d", &major, &minor)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected major.minor format, got %q", version)
	}
	return major, minor, nil
}
