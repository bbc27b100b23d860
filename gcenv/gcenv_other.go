// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package gcenv

import (
	"os"
	"runtime"

	"gclab/gcerr"
)

// GetSystemInfo returns the number of processors and the page size.
func GetSystemInfo() GCSystemInfo {
	page := os.Getpagesize()
	return GCSystemInfo{
		NumberOfProcessors:    uint32(runtime.NumCPU()),
		PageSize:              uint32(page),
		AllocationGranularity: uint32(page),
	}
}

// GetMemoryStatus is not implemented on this platform.
func GetMemoryStatus() (GCMemoryStatus, error) {
	return GCMemoryStatus{}, gcerr.Externalf("memory status", "not supported on %s", runtime.GOOS)
}
