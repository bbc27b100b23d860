// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcenv takes snapshots of the processor and memory resources
// the operating system makes available to the collector.
package gcenv

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// GCSystemInfo describes the processors and memory pages available to
// the process.
type GCSystemInfo struct {
	NumberOfProcessors    uint32
	PageSize              uint32
	AllocationGranularity uint32
}

// GCMemoryStatus is a snapshot of memory use. All sizes are in bytes.
type GCMemoryStatus struct {
	// MemoryLoad is the percentage of physical memory in use.
	MemoryLoad uint32

	TotalPhys     uint64
	AvailPhys     uint64
	TotalPageFile uint64
	AvailPageFile uint64
	TotalVirtual  uint64
	AvailVirtual  uint64
}

func (s GCMemoryStatus) String() string {
	return fmt.Sprintf("load %d%%, phys %d/%d, swap %d/%d, virtual %d/%d",
		s.MemoryLoad, s.AvailPhys, s.TotalPhys, s.AvailPageFile, s.TotalPageFile, s.AvailVirtual, s.TotalVirtual)
}

// memoryLoad returns the percentage of total that is not available.
func memoryLoad(total, avail uint64) uint32 {
	if total == 0 || avail >= total {
		return 0
	}
	return uint32((total - avail) * 100 / total)
}

// parseMeminfo returns the value of key in /proc/meminfo format, in
// bytes.
func parseMeminfo(r io.Reader, key string) (uint64, bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || name != key {
			continue
		}
		f := strings.Fields(rest)
		if len(f) == 0 {
			return 0, false
		}
		n, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil {
			return 0, false
		}
		if len(f) > 1 && f[1] == "kB" {
			n *= 1024
		}
		return n, true
	}
	return 0, false
}

// parseCgroupLimit parses a cgroup v2 memory.max file. It returns false
// if there is no limit.
func parseCgroupLimit(data string) (uint64, bool) {
	data = strings.TrimSpace(data)
	if data == "" || data == "max" {
		return 0, false
	}
	n, err := strconv.ParseUint(data, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
