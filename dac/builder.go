// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
)

// ObjectHeaderSize is the size of the object header Builder writes. The
// first header word is the address of the object's class descriptor
// and the second holds the object's size in the low half and its number
// of reference slots in the high half. Reference slots follow the
// header.
//
// A free object has the low bit of its first word set and the rest of
// that word holds its size. Free objects fill the gaps between objects
// so a segment can be walked linearly.
const ObjectHeaderSize = 16

// DefaultGenerationSize is the generation table stride Builder writes.
const DefaultGenerationSize = 48

// metaBase is the lowest address at which Builder places heap tables,
// segments and class descriptors. They go above the highest segment.
const metaBase TAddr = 0x10000

// metaAlign aligns the start of Builder's metadata.
const metaAlign = 0x1000

// ObjectSpec describes an object to write.
type ObjectSpec struct {
	Addr  TAddr
	Size  uint64
	Class string
	Refs  []TAddr
}

// SegmentSpec describes a segment to write. Objects need not be sorted.
type SegmentSpec struct {
	Mem, Allocated TAddr
	Objects        []ObjectSpec
}

// GenerationSpec describes a generation. If AllocLimit > AllocPtr, the
// range between them is an allocation context: it must lie in one of
// the segments and is left as raw memory.
type GenerationSpec struct {
	Segments             []SegmentSpec
	AllocPtr, AllocLimit TAddr
}

// A Builder lays out heaps in an Image the way a live collector
// publishes them.
type Builder struct {
	// MultiHeap writes a heap table even for a single heap.
	MultiHeap bool
	// GenerationSize overrides DefaultGenerationSize.
	GenerationSize uint64

	heaps [][]GenerationSpec
}

// AddHeap adds a heap with the given generations, youngest first. All
// heaps must have the same number of generations.
func (b *Builder) AddHeap(gens ...GenerationSpec) {
	b.heaps = append(b.heaps, gens)
}

type metaWriter struct {
	base    TAddr
	buf     []byte
	classes map[string]TAddr
}

func (m *metaWriter) alloc(n uint64) TAddr {
	n = (n + 7) &^ 7
	addr := m.base + TAddr(len(m.buf))
	m.buf = append(m.buf, make([]byte, n)...)
	return addr
}

func (m *metaWriter) put(addr TAddr, off uint64, v uint64) {
	binary.LittleEndian.PutUint64(m.buf[uint64(addr-m.base)+off:], v)
}

func (m *metaWriter) class(name string) TAddr {
	if a, ok := m.classes[name]; ok {
		return a
	}
	a := m.alloc(8 + uint64(len(name)))
	m.put(a, 0, uint64(len(name)))
	copy(m.buf[a-m.base+8:], name)
	m.classes[name] = a
	return a
}

// Build writes the heaps to a new image.
func (b *Builder) Build() (*Image, error) {
	if len(b.heaps) == 0 {
		return nil, fmt.Errorf("no heaps")
	}
	nGens := len(b.heaps[0])
	if nGens == 0 {
		return nil, fmt.Errorf("heap 0 has no generations")
	}
	for i, h := range b.heaps {
		if len(h) != nGens {
			return nil, fmt.Errorf("heap %d has %d generations, heap 0 has %d", i, len(h), nGens)
		}
	}
	genSize := b.GenerationSize
	if genSize == 0 {
		genSize = DefaultGenerationSize
	}
	if genSize < genMinSize || genSize%8 != 0 {
		return nil, fmt.Errorf("bad generation size %d", genSize)
	}
	multi := b.MultiHeap || len(b.heaps) > 1
	base, err := b.checkSegments()
	if err != nil {
		return nil, err
	}

	img := NewImage()
	m := &metaWriter{base: base, classes: make(map[string]TAddr)}
	const heapGenTableOff = 16

	var heapTable, genTable TAddr
	var numHeaps uint64
	if multi {
		numHeaps = uint64(len(b.heaps))
		heapTable = m.alloc(8 * numHeaps)
	}
	for hi, gens := range b.heaps {
		var table TAddr
		if multi {
			heapAddr := m.alloc(heapGenTableOff + genSize*uint64(nGens))
			m.put(heapAddr, 0, uint64(hi))
			m.put(heapTable, 8*uint64(hi), uint64(heapAddr))
			table = heapAddr + heapGenTableOff
		} else {
			table = m.alloc(genSize * uint64(nGens))
			genTable = table
		}
		for gi, gen := range gens {
			entry := TableIndex(table, gi, genSize)
			if err := b.writeGeneration(img, m, entry, gen); err != nil {
				return nil, fmt.Errorf("heap %d generation %d: %w", hi, gi, err)
			}
		}
	}

	globals := make([]byte, globalsSize)
	put := func(off int, v uint64) {
		binary.LittleEndian.PutUint64(globals[off:], v)
	}
	put(globMagic, GlobalsMagic)
	put(globVersion, LayoutMajor<<32|LayoutMinor)
	put(globGenerationSize, genSize)
	put(globTotalGenerationCount, uint64(nGens))
	put(globMaxGen, uint64(nGens-1))
	put(globNumHeaps, numHeaps)
	put(globGenerationTable, uint64(genTable))
	put(globHeapTable, uint64(heapTable))
	put(globHeapGenTableOffset, heapGenTableOff)
	put(globObjectHeaderSize, ObjectHeaderSize)
	if err := img.Map(GlobalsAddr, globals); err != nil {
		return nil, err
	}
	if err := img.Map(m.base, m.buf); err != nil {
		return nil, err
	}
	return img, nil
}

// checkSegments checks that no two segments overlap and that none
// overlaps the globals block. It returns the metadata base address.
func (b *Builder) checkSegments() (TAddr, error) {
	type span struct{ lo, hi TAddr }
	segs := []span{{GlobalsAddr, GlobalsAddr + globalsSize}}
	for _, gens := range b.heaps {
		for _, gen := range gens {
			for _, seg := range gen.Segments {
				if seg.Allocated < seg.Mem {
					return 0, fmt.Errorf("segment at %v ends before it starts", seg.Mem)
				}
				segs = append(segs, span{seg.Mem, seg.Allocated})
			}
		}
	}
	slices.SortFunc(segs, func(a, b span) int { return cmp.Compare(a.lo, b.lo) })
	base := metaBase
	for i, s := range segs {
		if i > 0 && s.lo < segs[i-1].hi {
			p := segs[i-1]
			if p.lo == GlobalsAddr {
				return 0, fmt.Errorf("segment [%v,%v) overlaps the globals block at %v", s.lo, s.hi, GlobalsAddr)
			}
			if s.lo == GlobalsAddr {
				return 0, fmt.Errorf("segment [%v,%v) overlaps the globals block at %v", p.lo, p.hi, GlobalsAddr)
			}
			return 0, fmt.Errorf("segment [%v,%v) overlaps segment [%v,%v)", p.lo, p.hi, s.lo, s.hi)
		}
		base = max(base, (s.hi+metaAlign-1)&^(metaAlign-1))
	}
	return base, nil
}

func (b *Builder) writeGeneration(img *Image, m *metaWriter, entry TAddr, gen GenerationSpec) error {
	hasCtx := gen.AllocLimit > gen.AllocPtr
	ctxUsed := false
	var prev TAddr
	for i := len(gen.Segments) - 1; i >= 0; i-- {
		s := gen.Segments[i]
		var ctx *ObjectSpec
		if hasCtx && gen.AllocPtr >= s.Mem && gen.AllocLimit <= s.Allocated {
			ctx = &ObjectSpec{Addr: gen.AllocPtr, Size: uint64(gen.AllocLimit - gen.AllocPtr)}
			ctxUsed = true
		}
		data, err := writeSegment(m, s, ctx)
		if err != nil {
			return err
		}
		if err := img.Map(s.Mem, data); err != nil {
			return err
		}
		seg := m.alloc(segmentSize)
		m.put(seg, segMem, uint64(s.Mem))
		m.put(seg, segAllocated, uint64(s.Allocated))
		m.put(seg, segNext, uint64(prev))
		prev = seg
	}
	if hasCtx && !ctxUsed {
		return fmt.Errorf("allocation context [%v,%v) is not in a segment", gen.AllocPtr, gen.AllocLimit)
	}
	var start TAddr
	if len(gen.Segments) > 0 {
		start = gen.Segments[0].Mem
	}
	m.put(entry, genAllocPtr, uint64(gen.AllocPtr))
	m.put(entry, genAllocLimit, uint64(gen.AllocLimit))
	m.put(entry, genStartSegment, uint64(prev))
	m.put(entry, genAllocationStart, uint64(start))
	return nil
}

// writeSegment returns the contents of segment s. ctx, if not nil, is
// the allocation context, which is left zeroed.
func writeSegment(m *metaWriter, s SegmentSpec, ctx *ObjectSpec) ([]byte, error) {
	if s.Mem%8 != 0 || s.Allocated%8 != 0 || s.Allocated < s.Mem {
		return nil, fmt.Errorf("bad segment [%v,%v)", s.Mem, s.Allocated)
	}
	items := make([]*ObjectSpec, 0, len(s.Objects)+1)
	for i := range s.Objects {
		items = append(items, &s.Objects[i])
	}
	if ctx != nil {
		items = append(items, ctx)
	}
	slices.SortFunc(items, func(a, b *ObjectSpec) int {
		return cmp.Compare(a.Addr, b.Addr)
	})

	data := make([]byte, s.Allocated-s.Mem)
	free := func(lo, hi TAddr) {
		if hi > lo {
			binary.LittleEndian.PutUint64(data[lo-s.Mem:], uint64(hi-lo)<<1|1)
		}
	}
	next := s.Mem
	for _, o := range items {
		end := o.Addr + TAddr(o.Size)
		switch {
		case o.Addr%8 != 0 || o.Size%8 != 0:
			return nil, fmt.Errorf("object at %v of size %d is misaligned", o.Addr, o.Size)
		case o.Addr < next:
			return nil, fmt.Errorf("object at %v overlaps the previous object", o.Addr)
		case end > s.Allocated:
			return nil, fmt.Errorf("object at %v extends past the segment end %v", o.Addr, s.Allocated)
		}
		free(next, o.Addr)
		next = end
		if o == ctx {
			continue
		}
		if o.Size < ObjectHeaderSize+8*uint64(len(o.Refs)) || o.Size >= 1<<32 {
			return nil, fmt.Errorf("object at %v: bad size %d for %d refs", o.Addr, o.Size, len(o.Refs))
		}
		d := data[o.Addr-s.Mem:]
		binary.LittleEndian.PutUint64(d[0:], uint64(m.class(o.Class)))
		binary.LittleEndian.PutUint64(d[8:], o.Size|uint64(len(o.Refs))<<32)
		for i, r := range o.Refs {
			binary.LittleEndian.PutUint64(d[ObjectHeaderSize+8*i:], uint64(r))
		}
	}
	free(next, s.Allocated)
	return data, nil
}
