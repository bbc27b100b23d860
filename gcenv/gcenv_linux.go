// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcenv

import (
	"os"

	"golang.org/x/sys/unix"

	"gclab/gcerr"
)

const (
	meminfoPath     = "/proc/meminfo"
	cgroupLimitPath = "/sys/fs/cgroup/memory.max"

	// userAddressSpace is the size of the user address space on 64-bit
	// Linux with 4-level page tables.
	userAddressSpace = 1 << 47
)

// GetSystemInfo returns the processors available to this process,
// honoring its CPU affinity mask, and the system page size.
func GetSystemInfo() GCSystemInfo {
	n := 1
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if c := set.Count(); c > 0 {
			n = c
		}
	}
	page := unix.Getpagesize()
	return GCSystemInfo{
		NumberOfProcessors:    uint32(n),
		PageSize:              uint32(page),
		AllocationGranularity: uint32(page),
	}
}

// GetMemoryStatus returns a snapshot of memory use. Physical memory is
// capped by the process's cgroup limit, if any, and virtual memory by
// its address space limit.
func GetMemoryStatus() (GCMemoryStatus, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return GCMemoryStatus{}, gcerr.WrapExternal("sysinfo", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	var s GCMemoryStatus
	s.TotalPhys = uint64(info.Totalram) * unit
	s.AvailPhys = (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if f, err := os.Open(meminfoPath); err == nil {
		if avail, ok := parseMeminfo(f, "MemAvailable"); ok {
			s.AvailPhys = avail
		}
		f.Close()
	}
	if data, err := os.ReadFile(cgroupLimitPath); err == nil {
		if limit, ok := parseCgroupLimit(string(data)); ok && limit < s.TotalPhys {
			s.TotalPhys = limit
			s.AvailPhys = min(s.AvailPhys, limit)
		}
	}
	s.MemoryLoad = memoryLoad(s.TotalPhys, s.AvailPhys)
	s.TotalPageFile = uint64(info.Totalswap) * unit
	s.AvailPageFile = uint64(info.Freeswap) * unit

	s.TotalVirtual = userAddressSpace
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &rl); err == nil && rl.Cur != ^uint64(0) && rl.Cur < s.TotalVirtual {
		s.TotalVirtual = rl.Cur
	}
	s.AvailVirtual = s.TotalVirtual
	return s, nil
}
