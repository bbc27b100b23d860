// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
)

// Bytes is a count of bytes or a byte offset.
type Bytes uint64

func (a Bytes) Div(b Bytes) int {
	return int(a / b)
}

func (a Bytes) CeilDiv(b Bytes) int {
	return int((a + b - 1) / b)
}

func (a Bytes) Mul(b int) Bytes {
	return a * Bytes(b)
}

func (a Bytes) Words() Words {
	return Words(a / WordBytes)
}

// AlignUp rounds a up to a multiple of align, which must be a power of 2.
func (a Bytes) AlignUp(align Bytes) Bytes {
	return (a + align - 1) &^ (align - 1)
}

func (a Bytes) String() string {
	if a == 0 {
		return "0 bytes"
	} else if a%GiB == 0 {
		return fmt.Sprintf("%d GiB", a/GiB)
	} else if a%MiB == 0 {
		return fmt.Sprintf("%d MiB", a/MiB)
	} else if a%KiB == 0 {
		return fmt.Sprintf("%d KiB", a/KiB)
	}
	return fmt.Sprintf("%d bytes", a)
}

const (
	KiB Bytes = 1 << 10
	MiB Bytes = 1 << 20
	GiB Bytes = 1 << 30
)

const (
	// WordBytes is the size of a reference slot.
	WordBytes Bytes = 8

	// AllocAlign is the allocation alignment. Conservative pointers are
	// rounded down to it before they are looked up.
	AllocAlign Bytes = 8

	// HeaderBytes is the size of an object header. Reference slot i of
	// an object lives at Addr + HeaderBytes + i*WordBytes.
	HeaderBytes Bytes = 16

	// MinHeapAddr is the lowest address that can ever be a heap
	// address. Anything below it is obviously not a pointer.
	MinHeapAddr VAddr = 4096
)

// Words is a count of words or a word offset.
type Words uint64

func (a Words) Bytes() Bytes {
	return Bytes(a) * WordBytes
}

// VAddr is a virtual address: a byte offset into the simulated address
// space.
type VAddr uint64

func (a VAddr) Plus(b Bytes) VAddr {
	c, ok := a.PlusOK(b)
	if !ok {
		panic(fmt.Sprintf("%s+%s overflowed", a, b))
	}
	return c
}

func (a VAddr) PlusOK(b Bytes) (VAddr, bool) {
	c := a + VAddr(b)
	if c < a {
		return 0, false
	}
	return c, true
}

func (a VAddr) Minus(b VAddr) Bytes {
	c := a - b
	if c > a {
		panic(fmt.Sprintf("%s-%s overflowed", a, b))
	}
	return Bytes(c)
}

// AlignDown rounds a down to a multiple of align.
func (a VAddr) AlignDown(align Bytes) VAddr {
	return a &^ VAddr(align-1)
}

func (a VAddr) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// Range is a half-open address range [Start, Start+Len).
type Range struct {
	Start VAddr
	Len   Bytes
}

func (r Range) End() VAddr {
	end, ok := r.Start.PlusOK(r.Len)
	if !ok {
		panic(fmt.Sprintf("range end overflowed: %s", r))
	}
	return end
}

func (r Range) Contains(x VAddr) bool {
	return r.Start <= x && x.Minus(r.Start) < r.Len
}

func (r Range) Overlaps(r2 Range) bool {
	return r.Start < r2.End() && r2.Start < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%s,%s)", r.Start, r.End())
}

func (r Range) ShortString() string {
	return fmt.Sprintf("[%#x,%#x)", uint64(r.Start), uint64(r.End()))
}

// ObjectID is a handle to an object record. Object addresses change
// when an object is promoted; its ObjectID does not.
type ObjectID uint32

// NoObject is the zero ObjectID.
const NoObject ObjectID = 0

// Generation is an object's generation.
type Generation uint8

const (
	Nursery Generation = iota
	Old

	NumGenerations = 2
)

func (g Generation) String() string {
	switch g {
	case Nursery:
		return "nursery"
	case Old:
		return "old"
	}
	return fmt.Sprintf("Generation(%d)", int(g))
}
