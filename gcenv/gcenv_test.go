// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcenv

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	if info.NumberOfProcessors == 0 || int(info.NumberOfProcessors) > runtime.NumCPU() {
		t.Errorf("NumberOfProcessors = %d, NumCPU = %d", info.NumberOfProcessors, runtime.NumCPU())
	}
	if info.PageSize == 0 || info.PageSize&(info.PageSize-1) != 0 {
		t.Errorf("PageSize = %d, not a power of two", info.PageSize)
	}
}

func TestGetMemoryStatus(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("memory status only supported on linux")
	}
	s, err := GetMemoryStatus()
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalPhys == 0 || s.AvailPhys > s.TotalPhys {
		t.Errorf("physical memory %d available of %d", s.AvailPhys, s.TotalPhys)
	}
	if s.MemoryLoad > 100 {
		t.Errorf("memory load %d%%", s.MemoryLoad)
	}
	if s.TotalVirtual == 0 || s.AvailVirtual > s.TotalVirtual {
		t.Errorf("virtual memory %d available of %d", s.AvailVirtual, s.TotalVirtual)
	}
}

func TestParseMeminfo(t *testing.T) {
	const meminfo = `MemTotal:       16318384 kB
MemFree:         1234567 kB
MemAvailable:    8000000 kB
HugePages_Total:       0
`
	if n, ok := parseMeminfo(strings.NewReader(meminfo), "MemAvailable"); !ok || n != 8000000*1024 {
		t.Errorf("MemAvailable = %d, %v", n, ok)
	}
	if n, ok := parseMeminfo(strings.NewReader(meminfo), "HugePages_Total"); !ok || n != 0 {
		t.Errorf("HugePages_Total = %d, %v", n, ok)
	}
	if _, ok := parseMeminfo(strings.NewReader(meminfo), "SwapTotal"); ok {
		t.Error("found missing key")
	}
}

func TestMemoryLoad(t *testing.T) {
	for _, tc := range []struct {
		total, avail uint64
		want         uint32
	}{
		{100, 100, 0},
		{100, 25, 75},
		{0, 0, 0},
		{100, 200, 0},
	} {
		if got := memoryLoad(tc.total, tc.avail); got != tc.want {
			t.Errorf("memoryLoad(%d, %d) = %d, want %d", tc.total, tc.avail, got, tc.want)
		}
	}
	if _, ok := parseCgroupLimit("max\n"); ok {
		t.Error("max parsed as a limit")
	}
	if n, ok := parseCgroupLimit("1073741824\n"); !ok || n != 1<<30 {
		t.Errorf("parseCgroupLimit = %d, %v", n, ok)
	}
}
