// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pinning

import (
	"sync/atomic"

	"gclab/heap"
)

const (
	// CementHashShift is log2 of the number of cement hash slots.
	CementHashShift = 9
	CementHashSize  = 1 << CementHashShift

	// DefaultCementThreshold is the number of times a nursery object
	// must be found pinned while holding a global remset before it is
	// cemented.
	DefaultCementThreshold = 1000
)

type cementEntry struct {
	obj    atomic.Uint64 // heap.VAddr; 0 if the slot is free
	count  atomic.Uint32
	forced atomic.Bool
}

// Cement tracks nursery objects that are pinned over and over. Once an
// object's count reaches the threshold it is cemented: it stays pinned
// in every nursery collection until the next major collection, and no
// more global remset entries are recorded for it.
//
// The table has a fixed number of slots and does not chain. An object
// that hashes to a slot owned by another object is simply never
// cemented.
//
// LookupOrRegister may be called concurrently by mark workers. The other
// methods are called during a pause by the collector alone.
type Cement struct {
	enabled   bool
	threshold uint32
	table     [CementHashSize]cementEntry
}

// NewCement returns a cement table. If enabled is false every query
// answers false. A threshold of 0 selects DefaultCementThreshold.
func NewCement(enabled bool, threshold int) *Cement {
	if threshold <= 0 {
		threshold = DefaultCementThreshold
	}
	return &Cement{enabled: enabled, threshold: uint32(threshold)}
}

// Enabled reports whether cementing is on.
func (c *Cement) Enabled() bool {
	return c.enabled
}

// Threshold returns the cementing threshold.
func (c *Cement) Threshold() int {
	return int(c.threshold)
}

func cementSlot(obj heap.VAddr) int {
	h := uint64(obj>>3) * 0x9e3779b97f4a7c15
	return int(h >> (64 - CementHashShift))
}

// LookupOrRegister records another pin of nursery object obj. It
// reports whether obj was already cemented, in which case the caller
// need not record a global remset entry for it.
func (c *Cement) LookupOrRegister(obj heap.VAddr) bool {
	if !c.enabled {
		return false
	}
	e := &c.table[cementSlot(obj)]
	if cur := heap.VAddr(e.obj.Load()); cur == 0 {
		if !e.obj.CompareAndSwap(0, uint64(obj)) && heap.VAddr(e.obj.Load()) != obj {
			// Lost the slot to another object.
			return false
		}
	} else if cur != obj {
		return false
	}
	if e.count.Load() >= c.threshold {
		return true
	}
	if e.count.Add(1) == c.threshold {
		e.forced.Store(true)
	}
	return false
}

// Lookup reports whether obj is cemented.
func (c *Cement) Lookup(obj heap.VAddr) bool {
	if !c.enabled {
		return false
	}
	e := &c.table[cementSlot(obj)]
	return heap.VAddr(e.obj.Load()) == obj && e.count.Load() >= c.threshold
}

// ForcePinned forces every object that has reached the threshold to be
// pinned by PinCemented.
func (c *Cement) ForcePinned() {
	for i := range c.table {
		e := &c.table[i]
		if e.obj.Load() != 0 && e.count.Load() >= c.threshold {
			e.forced.Store(true)
		}
	}
}

// IsForced reports whether obj will be pinned by PinCemented.
func (c *Cement) IsForced(obj heap.VAddr) bool {
	if !c.enabled {
		return false
	}
	e := &c.table[cementSlot(obj)]
	return heap.VAddr(e.obj.Load()) == obj && e.forced.Load()
}

// PinCemented calls stage for every forced object.
func (c *Cement) PinCemented(stage func(heap.VAddr)) {
	for i := range c.table {
		e := &c.table[i]
		if obj := e.obj.Load(); obj != 0 && e.forced.Load() {
			stage(heap.VAddr(obj))
		}
	}
}

// ClearBelowThreshold frees every slot whose object has not been
// cemented. It is called at the end of each nursery collection.
func (c *Cement) ClearBelowThreshold() {
	for i := range c.table {
		e := &c.table[i]
		if e.count.Load() < c.threshold {
			e.obj.Store(0)
			e.count.Store(0)
			e.forced.Store(false)
		}
	}
}

// Reset uncements everything. It is called at the start of each major
// collection.
func (c *Cement) Reset() {
	for i := range c.table {
		e := &c.table[i]
		e.obj.Store(0)
		e.count.Store(0)
		e.forced.Store(false)
	}
}

// NumCemented returns the number of cemented objects.
func (c *Cement) NumCemented() int {
	n := 0
	for i := range c.table {
		if c.table[i].obj.Load() != 0 && c.table[i].count.Load() >= c.threshold {
			n++
		}
	}
	return n
}
