// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap implements a simulated, generational object heap.
//
// Objects are records in an arena indexed by ObjectID. Each object has a
// virtual address in either the nursery or the old generation, a size,
// and a slice of reference slots holding addresses of other objects.
// No real memory is managed; the heap exists so the collector's
// concurrency discipline can be exercised faithfully.
package heap

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"gclab/bitmap"
)

// ErrNurseryFull is returned by Alloc when the nursery has no fragment
// large enough for the request. The caller should run a nursery
// collection and retry.
var ErrNurseryFull = errors.New("nursery full")

// ErrHeapExhausted is returned when the old generation would exceed its
// configured maximum size.
var ErrHeapExhausted = errors.New("heap exhausted")

const (
	// NurseryStart is the base address of the nursery.
	NurseryStart VAddr = 0x0000_00c0_0000_0000

	// OldStart is the base address of the old generation. The old
	// generation grows upwards from here.
	OldStart VAddr = 0x0000_00c8_0000_0000

	// LargeObjectBytes is the size above which objects are allocated
	// directly in the old generation.
	LargeObjectBytes = 8 * KiB
)

// Object is an object record.
type Object struct {
	Addr  VAddr
	Size  Bytes
	Gen   Generation
	Class string

	// Refs are the object's reference slots. A zero slot is nil.
	Refs []VAddr

	// Pinned is set for the duration of a collection on objects that
	// must not move.
	Pinned bool

	live bool
}

// Range returns the address range occupied by o.
func (o *Object) Range() Range {
	return Range{o.Addr, o.Size}
}

// SlotAddr returns the address of reference slot i.
func (o *Object) SlotAddr(i int) VAddr {
	return o.Addr.Plus(HeaderBytes + WordBytes.Mul(i))
}

// Config sizes a Heap.
type Config struct {
	NurseryBytes Bytes
	MaxHeapBytes Bytes // Old generation limit; 0 means unlimited
}

// Heap is a simulated generational heap.
//
// Allocation, write barriers and sweeping take h.mu. During a
// stop-the-world pause the collector has exclusive access and the
// read-only methods used by mark workers (Object, Lookup, FindObject)
// may be called concurrently without locking.
type Heap struct {
	mu sync.Mutex

	cfg Config

	objects []Object // Indexed by ObjectID; objects[0] is unused
	freeIDs []ObjectID
	// pendingFree holds IDs freed by a sweep that may still be running
	// concurrently with allocation. They become reusable at the next
	// ResetMarks.
	pendingFree []ObjectID

	byAddr map[VAddr]ObjectID

	// sorted is every live object's start address in increasing order,
	// rebuilt by BuildIndex for interior pointer lookups.
	sorted      []VAddr
	sortedDirty bool

	nursery   Range
	fragments []Range // Free nursery fragments, in address order
	oldNext   VAddr
	oldBytes  Bytes

	// remset is the set of old objects that may hold references into
	// the nursery.
	remset map[ObjectID]struct{}

	marks *bitmap.AtomicSet[ObjectID]

	// allocBlack is set while a sweep may be running concurrently with
	// allocation. Objects allocated then are marked so the sweep keeps
	// them even if they reuse an ID below the sweep limit.
	allocBlack bool
}

// New returns an empty heap.
func New(cfg Config) *Heap {
	if cfg.NurseryBytes == 0 {
		cfg.NurseryBytes = 4 * MiB
	}
	cfg.NurseryBytes = cfg.NurseryBytes.AlignUp(AllocAlign)
	h := &Heap{
		cfg:     cfg,
		objects: make([]Object, 1),
		byAddr:  make(map[VAddr]ObjectID),
		nursery: Range{NurseryStart, cfg.NurseryBytes},
		oldNext: OldStart,
		remset:  make(map[ObjectID]struct{}),
		marks:   bitmap.NewAtomicSet[ObjectID](64),
	}
	h.fragments = []Range{h.nursery}
	return h
}

// NurseryRange returns the nursery's address range.
func (h *Heap) NurseryRange() Range {
	return h.nursery
}

// OldRange returns the range of the old generation that has been used so
// far.
func (h *Heap) OldRange() Range {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Range{OldStart, h.oldNext.Minus(OldStart)}
}

// InHeap reports whether addr falls inside the nursery or the used part
// of the old generation. It is a cheap filter for conservative roots.
func (h *Heap) InHeap(addr VAddr) bool {
	if addr < MinHeapAddr {
		return false
	}
	return h.nursery.Contains(addr) || (addr >= OldStart && addr < h.oldNext)
}

// ObjectBytes returns the allocation size of an object with nRefs
// reference slots and extra bytes of non-pointer payload.
func ObjectBytes(nRefs int, extra Bytes) Bytes {
	return (HeaderBytes + WordBytes.Mul(nRefs) + extra).AlignUp(AllocAlign)
}

// Alloc allocates an object with nRefs nil reference slots and extra
// bytes of pointer-free payload. Small objects are allocated in the
// nursery; large objects go directly to the old generation.
func (h *Heap) Alloc(class string, nRefs int, extra Bytes) (ObjectID, error) {
	size := ObjectBytes(nRefs, extra)

	h.mu.Lock()
	defer h.mu.Unlock()

	var addr VAddr
	gen := Nursery
	if size >= LargeObjectBytes {
		var err error
		addr, err = h.allocOldLocked(size)
		if err != nil {
			return NoObject, err
		}
		gen = Old
	} else {
		var ok bool
		addr, ok = h.allocNurseryLocked(size)
		if !ok {
			return NoObject, ErrNurseryFull
		}
	}
	id := h.newIDLocked()
	if h.allocBlack && id < h.marks.Cap() {
		h.marks.TryAdd(id)
	}
	h.objects[id] = Object{
		Addr:  addr,
		Size:  size,
		Gen:   gen,
		Class: class,
		Refs:  make([]VAddr, nRefs),
		live:  true,
	}
	h.byAddr[addr] = id
	h.sortedDirty = true
	return id, nil
}

func (h *Heap) newIDLocked() ObjectID {
	if n := len(h.freeIDs); n > 0 {
		id := h.freeIDs[n-1]
		h.freeIDs = h.freeIDs[:n-1]
		return id
	}
	h.objects = append(h.objects, Object{})
	return ObjectID(len(h.objects) - 1)
}

func (h *Heap) allocNurseryLocked(size Bytes) (VAddr, bool) {
	for i := range h.fragments {
		f := &h.fragments[i]
		if f.Len < size {
			continue
		}
		addr := f.Start
		f.Start = f.Start.Plus(size)
		f.Len -= size
		if f.Len == 0 {
			h.fragments = slices.Delete(h.fragments, i, i+1)
		}
		return addr, true
	}
	return 0, false
}

func (h *Heap) allocOldLocked(size Bytes) (VAddr, error) {
	if h.cfg.MaxHeapBytes != 0 && h.oldBytes+size > h.cfg.MaxHeapBytes {
		return 0, fmt.Errorf("allocating %s: %w", size, ErrHeapExhausted)
	}
	addr := h.oldNext
	h.oldNext = h.oldNext.Plus(size)
	h.oldBytes += size
	return addr, nil
}

// Object returns the record for id. The pointer is valid until the next
// allocation; callers outside a collection pause must hold no
// expectation of stability.
func (h *Heap) Object(id ObjectID) *Object {
	return &h.objects[id]
}

// Live reports whether id names an allocated object.
func (h *Heap) Live(id ObjectID) bool {
	return int(id) < len(h.objects) && h.objects[id].live
}

// Lookup returns the object starting exactly at addr.
func (h *Heap) Lookup(addr VAddr) ObjectID {
	return h.byAddr[addr]
}

// ObjectAt is like Lookup but may be called while other goroutines
// allocate.
func (h *Heap) ObjectAt(addr VAddr) ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byAddr[addr]
}

// AddrOf returns the current address of id. It may be called while
// other goroutines allocate.
func (h *Heap) AddrOf(id ObjectID) VAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[id].Addr
}

// BuildIndex prepares the interior-pointer index used by FindObject. It
// is called at the start of a pause, before FindObject may be used
// concurrently.
func (h *Heap) BuildIndex() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.sortedDirty && h.sorted != nil {
		return
	}
	h.sorted = h.sorted[:0]
	for addr := range h.byAddr {
		h.sorted = append(h.sorted, addr)
	}
	slices.Sort(h.sorted)
	h.sortedDirty = false
}

// FindObject returns the object containing addr, which may point into
// the middle of the object, or NoObject.
func (h *Heap) FindObject(addr VAddr) ObjectID {
	if !h.InHeap(addr) {
		return NoObject
	}
	if h.sortedDirty {
		panic("heap: FindObject with stale index")
	}
	i, found := slices.BinarySearch(h.sorted, addr)
	if !found {
		if i == 0 {
			return NoObject
		}
		i--
	}
	id := h.byAddr[h.sorted[i]]
	if id == NoObject || !h.objects[id].Range().Contains(addr) {
		return NoObject
	}
	return id
}

// SetRef stores target into reference slot slot of obj. It is the write
// barrier: storing a nursery address into an old object records obj in
// the remembered set.
func (h *Heap) SetRef(obj ObjectID, slot int, target VAddr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := &h.objects[obj]
	if !o.live {
		panic(fmt.Sprintf("heap: write to dead object %d", obj))
	}
	o.Refs[slot] = target
	if o.Gen == Old && h.nursery.Contains(target) {
		h.remset[obj] = struct{}{}
	}
}

// Ref returns reference slot slot of obj.
func (h *Heap) Ref(obj ObjectID, slot int) VAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[obj].Refs[slot]
}

// Remset returns the remembered set in increasing ID order.
func (h *Heap) Remset() []ObjectID {
	ids := make([]ObjectID, 0, len(h.remset))
	for id := range h.remset {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SetRemset replaces the remembered set. It is called by the collector
// after a nursery collection has recomputed old-to-young references.
func (h *Heap) SetRemset(ids []ObjectID) {
	clear(h.remset)
	for _, id := range ids {
		h.remset[id] = struct{}{}
	}
}

// ResetMarks clears all mark bits and sizes the mark bitmap to the
// current number of object records. IDs freed by the previous sweep
// become reusable.
func (h *Heap) ResetMarks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeIDs = append(h.freeIDs, h.pendingFree...)
	h.pendingFree = h.pendingFree[:0]
	if n := ObjectID(len(h.objects)); h.marks.Cap() < n {
		h.marks = bitmap.NewAtomicSet[ObjectID](n * 2)
	} else {
		h.marks.Clear()
	}
}

// TryMark atomically sets id's mark bit. It reports whether the caller
// was the one to set it; only that caller may gray the object, which
// guarantees each object is scanned at most once per cycle.
func (h *Heap) TryMark(id ObjectID) bool {
	return h.marks.TryAdd(id)
}

// Marked reports whether id's mark bit is set.
func (h *Heap) Marked(id ObjectID) bool {
	return h.marks.Has(id)
}

// SetAllocBlack sets whether new objects are allocated marked.
func (h *Heap) SetAllocBlack(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocBlack = on
}

// NumMarked returns the number of set mark bits.
func (h *Heap) NumMarked() int {
	return h.marks.Len()
}

// Limit returns one past the highest ObjectID allocated so far. A sweep
// only considers IDs below the limit taken when marking finished.
func (h *Heap) Limit() ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ObjectID(len(h.objects))
}

// Objects iterates over all live objects of generation gen. It must
// only be used while the heap is not being mutated.
func (h *Heap) Objects(gen Generation) iter.Seq2[ObjectID, *Object] {
	return func(yield func(ObjectID, *Object) bool) {
		for i := 1; i < len(h.objects); i++ {
			o := &h.objects[i]
			if o.live && o.Gen == gen {
				if !yield(ObjectID(i), o) {
					return
				}
			}
		}
	}
}

// Free releases id. The ID is not reused until the next ResetMarks.
func (h *Heap) Free(id ObjectID) Bytes {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeLocked(id)
}

func (h *Heap) freeLocked(id ObjectID) Bytes {
	o := &h.objects[id]
	if !o.live {
		panic(fmt.Sprintf("heap: double free of object %d", id))
	}
	size := o.Size
	if o.Gen == Old {
		h.oldBytes -= size
	}
	delete(h.byAddr, o.Addr)
	delete(h.remset, id)
	*o = Object{}
	h.pendingFree = append(h.pendingFree, id)
	h.sortedDirty = true
	return size
}

// SweepRange frees every unmarked live object of generation gen with an
// ID in [lo, hi). It returns the number of objects and bytes freed. It
// locks the heap for the duration and so may run concurrently with
// allocation.
func (h *Heap) SweepRange(gen Generation, lo, hi ObjectID) (objects int, bytes Bytes) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hi = min(hi, ObjectID(len(h.objects)))
	for id := max(lo, 1); id < hi; id++ {
		o := &h.objects[id]
		if !o.live || o.Gen != gen || h.marks.Has(id) {
			continue
		}
		bytes += h.freeLocked(id)
		objects++
	}
	return
}

// Promote moves nursery object id to the old generation and returns its
// old and new addresses.
func (h *Heap) Promote(id ObjectID) (from, to VAddr, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := &h.objects[id]
	if !o.live || o.Gen != Nursery {
		panic(fmt.Sprintf("heap: promoting non-nursery object %d", id))
	}
	if o.Pinned {
		panic(fmt.Sprintf("heap: promoting pinned object %d", id))
	}
	to, err = h.allocOldLocked(o.Size)
	if err != nil {
		return 0, 0, err
	}
	from = o.Addr
	delete(h.byAddr, from)
	o.Addr = to
	o.Gen = Old
	h.byAddr[to] = id
	h.sortedDirty = true
	return from, to, nil
}

// ResetNursery rebuilds the nursery's free fragments around the objects
// still living in it, which after a nursery collection are exactly the
// pinned survivors.
func (h *Heap) ResetNursery() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var used []Range
	for i := 1; i < len(h.objects); i++ {
		o := &h.objects[i]
		if o.live && o.Gen == Nursery {
			used = append(used, o.Range())
		}
	}
	slices.SortFunc(used, func(a, b Range) int {
		if a.Start < b.Start {
			return -1
		} else if a.Start > b.Start {
			return 1
		}
		return 0
	})
	h.fragments = h.fragments[:0]
	next := h.nursery.Start
	for _, r := range used {
		if r.Start > next {
			h.fragments = append(h.fragments, Range{next, r.Start.Minus(next)})
		}
		next = r.End()
	}
	if end := h.nursery.End(); end > next {
		h.fragments = append(h.fragments, Range{next, end.Minus(next)})
	}
}

// Fragments returns the free nursery fragments in address order.
func (h *Heap) Fragments() []Range {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.fragments)
}

// FreeNurseryBytes returns the total size of free nursery fragments.
func (h *Heap) FreeNurseryBytes() Bytes {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n Bytes
	for _, f := range h.fragments {
		n += f.Len
	}
	return n
}

// Stats is a summary of heap occupancy.
type Stats struct {
	Objects [NumGenerations]int
	Bytes   [NumGenerations]Bytes
}

// Stats returns the current occupancy.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var s Stats
	for i := 1; i < len(h.objects); i++ {
		o := &h.objects[i]
		if !o.live {
			continue
		}
		s.Objects[o.Gen]++
		s.Bytes[o.Gen] += o.Size
	}
	return s
}
