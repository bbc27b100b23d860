// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"encoding/binary"
	"fmt"
	"iter"

	"gclab/gcerr"
)

// maxClassName bounds class name reads from a corrupt target.
const maxClassName = 4096

// Heap is one heap of the target. Addr is zero for a single-heap target.
type Heap struct {
	Index int
	Addr  TAddr
}

// Object is an object read from the target.
type Object struct {
	Addr  TAddr
	Size  uint64
	Class string
	Refs  []TAddr
}

// End returns the address just past o.
func (o *Object) End() TAddr {
	return o.Addr + TAddr(o.Size)
}

func (o *Object) String() string {
	return fmt.Sprintf("%v %s size %d refs %d", o.Addr, o.Class, o.Size, len(o.Refs))
}

// A Walker enumerates the heaps, generations and objects of a target.
// It is not safe for concurrent use.
type Walker struct {
	t       Target
	g       *Globals
	classes map[TAddr]string
}

// NewWalker reads t's globals and returns a walker for it.
func NewWalker(t Target) (*Walker, error) {
	g, err := ReadGlobals(t)
	if err != nil {
		return nil, err
	}
	return &Walker{t: t, g: g, classes: make(map[TAddr]string)}, nil
}

// Globals returns the target's globals block.
func (w *Walker) Globals() *Globals {
	return w.g
}

// Target returns the walker's target.
func (w *Walker) Target() Target {
	return w.t
}

// Heaps returns the target's heaps.
func (w *Walker) Heaps() ([]Heap, error) {
	if w.g.NumHeaps == 0 {
		return []Heap{{Index: 0}}, nil
	}
	heaps := make([]Heap, 0, w.g.NumHeaps)
	for i := 0; i < int(w.g.NumHeaps); i++ {
		addr, err := HeapTableIndex(w.t, w.g.HeapTable, i)
		if err != nil {
			return nil, err
		}
		if addr == 0 {
			return nil, gcerr.Externalf("heaps", "heap %d is nil: %w", i, ErrCorrupt)
		}
		heaps = append(heaps, Heap{Index: i, Addr: addr})
	}
	return heaps, nil
}

// Generations returns h's generation table.
func (w *Walker) Generations(h Heap) ([]Generation, error) {
	n := int(w.g.TotalGenerationCount)
	gens := make([]Generation, 0, n)
	for i := 0; i < n; i++ {
		var gen Generation
		var err error
		if h.Addr == 0 {
			gen, err = GenerationTableIndex(w.t, w.g, w.g.GenerationTable, i)
		} else {
			gen, err = ServerGenerationTableIndex(w.t, w.g, h.Addr, i)
		}
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, nil
}

// Segments iterates over gen's segments. Iteration stops after the
// first error.
func (w *Walker) Segments(gen Generation) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		seen := make(map[TAddr]bool)
		for addr := gen.StartSegment; addr != 0; {
			if seen[addr] {
				yield(Segment{}, gcerr.Externalf("segments", "segment list loops at %v: %w", addr, ErrCorrupt))
				return
			}
			seen[addr] = true
			s, err := ReadSegment(w.t, addr)
			if err != nil {
				yield(Segment{}, err)
				return
			}
			if !yield(s, nil) {
				return
			}
			addr = s.Next
		}
	}
}

// Objects iterates over the objects of gen in address order within each
// segment. Free objects and the allocation context are skipped.
// Iteration stops after the first error.
func (w *Walker) Objects(gen Generation) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		for s, err := range w.Segments(gen) {
			if err != nil {
				yield(Object{}, err)
				return
			}
			for addr := s.Mem; addr < s.Allocated; {
				if addr == gen.AllocPtr && gen.AllocLimit > gen.AllocPtr {
					addr = gen.AllocLimit
					continue
				}
				o, next, err := w.readObject(addr, s.Allocated)
				if err != nil {
					yield(Object{}, err)
					return
				}
				addr = next
				if o == nil {
					continue
				}
				if !yield(*o, nil) {
					return
				}
			}
		}
	}
}

// readObject reads the object at addr. It returns a nil object for a
// free object.
func (w *Walker) readObject(addr, limit TAddr) (*Object, TAddr, error) {
	var hdr [16]byte
	if err := w.t.ReadMemory(addr, hdr[:]); err != nil {
		// A free object at the very end of a segment may be a
		// single word.
		if word, err2 := readWord(w.t, addr); err2 == nil && word&1 != 0 {
			hdr = [16]byte{}
			binary.LittleEndian.PutUint64(hdr[:], word)
		} else {
			return nil, 0, gcerr.WrapExternal("object", err)
		}
	}
	word0 := binary.LittleEndian.Uint64(hdr[0:])
	if word0&1 != 0 {
		size := word0 >> 1
		if size == 0 || size%8 != 0 || addr+TAddr(size) > limit {
			return nil, 0, gcerr.Externalf("object", "free object at %v has size %d: %w", addr, size, ErrCorrupt)
		}
		return nil, addr + TAddr(size), nil
	}
	word1 := binary.LittleEndian.Uint64(hdr[8:])
	size := word1 & (1<<32 - 1)
	nRefs := word1 >> 32
	if size < w.g.ObjectHeaderSize+8*nRefs || size%8 != 0 || addr+TAddr(size) > limit {
		return nil, 0, gcerr.Externalf("object", "object at %v has size %d and %d refs: %w", addr, size, nRefs, ErrCorrupt)
	}
	class, err := w.className(TAddr(word0))
	if err != nil {
		return nil, 0, err
	}
	o := &Object{Addr: addr, Size: size, Class: class}
	if nRefs > 0 {
		buf := make([]byte, 8*nRefs)
		if err := w.t.ReadMemory(addr+TAddr(w.g.ObjectHeaderSize), buf); err != nil {
			return nil, 0, gcerr.WrapExternal("object", err)
		}
		o.Refs = make([]TAddr, nRefs)
		for i := range o.Refs {
			o.Refs[i] = TAddr(binary.LittleEndian.Uint64(buf[8*i:]))
		}
	}
	return o, addr + TAddr(size), nil
}

func (w *Walker) className(addr TAddr) (string, error) {
	if name, ok := w.classes[addr]; ok {
		return name, nil
	}
	if addr == 0 {
		return "", gcerr.Externalf("class", "nil class pointer: %w", ErrCorrupt)
	}
	n, err := readWord(w.t, addr)
	if err != nil {
		return "", gcerr.WrapExternal("class", err)
	}
	if n > maxClassName {
		return "", gcerr.Externalf("class", "class at %v has name length %d: %w", addr, n, ErrCorrupt)
	}
	buf := make([]byte, n)
	if err := w.t.ReadMemory(addr+8, buf); err != nil {
		return "", gcerr.WrapExternal("class", err)
	}
	w.classes[addr] = string(buf)
	return string(buf), nil
}

// HeapObjects iterates over every object of every generation of every
// heap.
func (w *Walker) HeapObjects() iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		heaps, err := w.Heaps()
		if err != nil {
			yield(Object{}, err)
			return
		}
		for _, h := range heaps {
			gens, err := w.Generations(h)
			if err != nil {
				yield(Object{}, err)
				return
			}
			for _, gen := range gens {
				for o, err := range w.Objects(gen) {
					if !yield(o, err) || err != nil {
						return
					}
				}
			}
		}
	}
}

// Read returns n bytes at addr.
func (w *Walker) Read(addr TAddr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := w.t.ReadMemory(addr, buf); err != nil {
		return nil, gcerr.WrapExternal("read", err)
	}
	return buf, nil
}
