// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dac reads the collector's heap structures out of another
// process or a dump.
//
// Nothing in this package writes to a target. Every operation is an
// address computation plus reads through a Target. The target must be
// suspended for the reads to be consistent; the walker cannot detect a
// target that changes under it.
//
// The target describes itself with a globals block at GlobalsAddr.
// Structure sizes that may change between collector versions, such as
// the size of a generation table entry, are read from the globals
// rather than compiled in. Read failures are returned as External
// errors and are never retried.
package dac

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gclab/gcerr"
)

// GlobalsAddr is the well-known address of the globals block.
const GlobalsAddr TAddr = 0x1000

// GlobalsMagic identifies a globals block.
const GlobalsMagic = 0x6361_646c_6367 // "gcldac"

// LayoutMajor and LayoutMinor are the layout version Builder writes.
// Targets with a different major version are rejected.
const (
	LayoutMajor = 1
	LayoutMinor = 0
)

// ErrUnmapped is wrapped by reads of memory the target does not have.
var ErrUnmapped = errors.New("unmapped memory")

// ErrCorrupt is wrapped by reads of structures that fail validation.
var ErrCorrupt = errors.New("corrupt heap structure")

// Limits on counts read from the globals block.
const (
	maxGenerations = 64
	maxHeaps       = 1 << 12
)

// Offsets of the globals block fields. Each field is a word.
const (
	globMagic = iota * 8
	globVersion
	globGenerationSize
	globTotalGenerationCount
	globMaxGen
	globNumHeaps
	globGenerationTable
	globHeapTable
	globHeapGenTableOffset
	globObjectHeaderSize
	globalsSize
)

// Offsets within a generation table entry. Entries may be larger than
// this; the stride is Globals.GenerationSize.
const (
	genAllocPtr = iota * 8
	genAllocLimit
	genStartSegment
	genAllocationStart
	genMinSize
)

// Offsets within a heap segment.
const (
	segMem = iota * 8
	segAllocated
	segNext
	segReserved
	segmentSize
)

// Globals is the globals block.
type Globals struct {
	Version              uint64 // Major in the high half, minor in the low
	GenerationSize       uint64 // Stride of generation tables
	TotalGenerationCount uint64
	MaxGen               uint64
	// NumHeaps is the number of heaps of a multi-heap target, or zero
	// for a single-heap target whose generations are at
	// GenerationTable.
	NumHeaps         uint64
	GenerationTable  TAddr
	HeapTable        TAddr // Array of NumHeaps heap pointers
	HeapGenTableOff  uint64
	ObjectHeaderSize uint64
}

// Major returns the major layout version.
func (g *Globals) Major() uint32 {
	return uint32(g.Version >> 32)
}

// Minor returns the minor layout version.
func (g *Globals) Minor() uint32 {
	return uint32(g.Version)
}

// Generation is one generation table entry.
type Generation struct {
	Index           int
	AllocPtr        TAddr // Allocation context; skipped when walking
	AllocLimit      TAddr
	StartSegment    TAddr
	AllocationStart TAddr
}

// Segment is one heap segment. Objects occupy [Mem, Allocated).
type Segment struct {
	Addr      TAddr
	Mem       TAddr
	Allocated TAddr
	Next      TAddr
}

// TableIndex returns the address of element index of the table at base
// whose elements are size bytes.
func TableIndex(base TAddr, index int, size uint64) TAddr {
	return base + TAddr(uint64(index)*size)
}

// HeapTableIndex returns the address of heap index. heaps is the address
// of an array of heap pointers.
func HeapTableIndex(t Target, heaps TAddr, index int) (TAddr, error) {
	return readAddr(t, TableIndex(heaps, index, 8))
}

// GenerationTableIndex reads entry index of the generation table at
// table.
func GenerationTableIndex(t Target, g *Globals, table TAddr, index int) (Generation, error) {
	if g.GenerationSize < genMinSize {
		return Generation{}, gcerr.Externalf("generation table", "entry size %d: %w", g.GenerationSize, ErrCorrupt)
	}
	addr := TableIndex(table, index, g.GenerationSize)
	var buf [genMinSize]byte
	if err := t.ReadMemory(addr, buf[:]); err != nil {
		return Generation{}, gcerr.WrapExternal("generation table", err)
	}
	return Generation{
		Index:           index,
		AllocPtr:        TAddr(binary.LittleEndian.Uint64(buf[genAllocPtr:])),
		AllocLimit:      TAddr(binary.LittleEndian.Uint64(buf[genAllocLimit:])),
		StartSegment:    TAddr(binary.LittleEndian.Uint64(buf[genStartSegment:])),
		AllocationStart: TAddr(binary.LittleEndian.Uint64(buf[genAllocationStart:])),
	}, nil
}

// ServerGenerationTableIndex reads entry index of the generation table
// of the heap at heapAddr.
func ServerGenerationTableIndex(t Target, g *Globals, heapAddr TAddr, index int) (Generation, error) {
	return GenerationTableIndex(t, g, heapAddr+TAddr(g.HeapGenTableOff), index)
}

// ReadGlobals reads and validates the globals block.
func ReadGlobals(t Target) (*Globals, error) {
	var buf [globalsSize]byte
	if err := t.ReadMemory(GlobalsAddr, buf[:]); err != nil {
		return nil, gcerr.WrapExternal("globals", err)
	}
	word := func(off int) uint64 {
		return binary.LittleEndian.Uint64(buf[off:])
	}
	if m := word(globMagic); m != GlobalsMagic {
		return nil, gcerr.Externalf("globals", "bad magic %#x: %w", m, ErrCorrupt)
	}
	g := &Globals{
		Version:              word(globVersion),
		GenerationSize:       word(globGenerationSize),
		TotalGenerationCount: word(globTotalGenerationCount),
		MaxGen:               word(globMaxGen),
		NumHeaps:             word(globNumHeaps),
		GenerationTable:      TAddr(word(globGenerationTable)),
		HeapTable:            TAddr(word(globHeapTable)),
		HeapGenTableOff:      word(globHeapGenTableOffset),
		ObjectHeaderSize:     word(globObjectHeaderSize),
	}
	if g.Major() != LayoutMajor {
		return nil, gcerr.Externalf("globals", "layout version %d.%d, want %d.x", g.Major(), g.Minor(), LayoutMajor)
	}
	switch {
	case g.GenerationSize < genMinSize:
		return nil, gcerr.Externalf("globals", "generation size %d: %w", g.GenerationSize, ErrCorrupt)
	case g.TotalGenerationCount == 0 || g.TotalGenerationCount > maxGenerations || g.MaxGen >= g.TotalGenerationCount:
		return nil, gcerr.Externalf("globals", "%d generations, max gen %d: %w", g.TotalGenerationCount, g.MaxGen, ErrCorrupt)
	case g.NumHeaps > maxHeaps:
		return nil, gcerr.Externalf("globals", "%d heaps: %w", g.NumHeaps, ErrCorrupt)
	case g.ObjectHeaderSize < 2*8:
		return nil, gcerr.Externalf("globals", "object header size %d: %w", g.ObjectHeaderSize, ErrCorrupt)
	}
	return g, nil
}

// ReadSegment reads the segment at addr.
func ReadSegment(t Target, addr TAddr) (Segment, error) {
	var buf [segmentSize]byte
	if err := t.ReadMemory(addr, buf[:]); err != nil {
		return Segment{}, gcerr.WrapExternal("segment", err)
	}
	s := Segment{
		Addr:      addr,
		Mem:       TAddr(binary.LittleEndian.Uint64(buf[segMem:])),
		Allocated: TAddr(binary.LittleEndian.Uint64(buf[segAllocated:])),
		Next:      TAddr(binary.LittleEndian.Uint64(buf[segNext:])),
	}
	if s.Allocated < s.Mem {
		return Segment{}, gcerr.Externalf("segment", "at %v: allocated %v below start %v: %w", addr, s.Allocated, s.Mem, ErrCorrupt)
	}
	return s, nil
}

func readWord(t Target, addr TAddr) (uint64, error) {
	var buf [8]byte
	if err := t.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readAddr(t Target, addr TAddr) (TAddr, error) {
	w, err := readWord(t, addr)
	if err != nil {
		return 0, gcerr.WrapExternal("read pointer", err)
	}
	return TAddr(w), nil
}

func (g *Globals) String() string {
	return fmt.Sprintf("version %d.%d, %d generations (max gen %d), %d heaps, generation size %d, header %d",
		g.Major(), g.Minor(), g.TotalGenerationCount, g.MaxGen, g.NumHeaps, g.GenerationSize, g.ObjectHeaderSize)
}
