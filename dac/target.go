// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"gclab/gcerr"
)

// TAddr is an address in the target's address space.
type TAddr uint64

func (a TAddr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Target is the memory of a suspended process or a dump.
type Target interface {
	// ReadMemory fills buf with the bytes at addr. It fails if any
	// part of the range is not readable.
	ReadMemory(addr TAddr, buf []byte) error
}

// An Image is a sparse memory image. It is a Target.
type Image struct {
	regions []region // Sorted by addr, non-overlapping
}

type region struct {
	addr TAddr
	data []byte
}

func (r *region) end() TAddr {
	return r.addr + TAddr(len(r.data))
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{}
}

// Map adds data at addr. The image takes ownership of data.
func (m *Image) Map(addr TAddr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr+TAddr(len(data)) < addr {
		return fmt.Errorf("region at %v wraps", addr)
	}
	i, _ := slices.BinarySearchFunc(m.regions, addr, func(r region, a TAddr) int {
		return cmp.Compare(r.addr, a)
	})
	nr := region{addr, data}
	if i > 0 && m.regions[i-1].end() > addr {
		return fmt.Errorf("region at %v overlaps region at %v", addr, m.regions[i-1].addr)
	}
	if i < len(m.regions) && m.regions[i].addr < nr.end() {
		return fmt.Errorf("region at %v overlaps region at %v", addr, m.regions[i].addr)
	}
	m.regions = slices.Insert(m.regions, i, nr)
	return nil
}

// ReadMemory implements Target.
func (m *Image) ReadMemory(addr TAddr, buf []byte) error {
	r := m.find(addr)
	if r == nil || addr+TAddr(len(buf)) > r.end() || addr+TAddr(len(buf)) < addr {
		return gcerr.Externalf("read", "%d bytes at %v: %w", len(buf), addr, ErrUnmapped)
	}
	copy(buf, r.data[addr-r.addr:])
	return nil
}

func (m *Image) find(addr TAddr) *region {
	i, found := slices.BinarySearchFunc(m.regions, addr, func(r region, a TAddr) int {
		return cmp.Compare(r.addr, a)
	})
	if found {
		return &m.regions[i]
	}
	if i == 0 {
		return nil
	}
	if r := &m.regions[i-1]; addr < r.end() {
		return r
	}
	return nil
}

// Regions iterates over the image's regions in address order.
func (m *Image) Regions() iter.Seq2[TAddr, []byte] {
	return func(yield func(TAddr, []byte) bool) {
		for _, r := range m.regions {
			if !yield(r.addr, r.data) {
				return
			}
		}
	}
}

// Size returns the total number of mapped bytes.
func (m *Image) Size() uint64 {
	var n uint64
	for _, r := range m.regions {
		n += uint64(len(r.data))
	}
	return n
}
