// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package ebpf

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Detect checks whether the current system supports eBPF with the features
// we need (uprobe cookies, ring buffer). Requires Linux 5.15+.
func Detect() Support {
	kver := kernelVersion()

	major, minor, err := parseKernelVersion(kver)
	if err != nil {
		return Support{
			Available:     false,
			KernelVersion: kver,
			Reason:        fmt.Sprintf("cannot parse kernel version %q: %v", kver, err),
		}
	}

	// Uprobe cookies require 5.15+; ring buffer requires 5.8+.
	if major < 5 || (major == 5 && minor < 15) {
		return Support{
			Available:     false,
			KernelVersion: kver,
			Reason:        fmt.Sprintf("kernel %d.%d < 5.15 (uprobe cookies require 5.15+)", major, minor),
		}
	}

	return Support{
		Available:     true,
		KernelVersion: kver,
		HasBTF:        btfAvailable(),
	}
}

// kernelVersion returns the running kernel version string.
func kernelVersion() string {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(uname.Release[:]), "\x00")
}

// btfAvailable checks if the kernel exposes BTF type information.
func btfAvailable() bool {
	_, err := os.Stat("/sys/kernel/btf/vmlinux")
	return err == nil
}
