// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"slices"

	"gclab/bitmap"
	"gclab/heap"
	"gclab/mutator"
)

// Verify checks the heap invariants the collector maintains between
// collections. It waits for background sweeping and stops the world, so
// it must not be called from mutator code.
func (c *Collector) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeper.wait()
	c.world.StopTheWorld()
	defer c.world.StartTheWorld()
	return c.verifyLocked()
}

// verifyLocked checks, for every object reachable from the roots, that
// its references are not dangling and that any old object referencing
// the nursery is remembered or references a cemented object. It also
// checks that no object is left pinned and that free nursery fragments
// do not overlap live objects.
func (c *Collector) verifyLocked() error {
	h := c.heap
	h.BuildIndex()
	nursery := h.NurseryRange()

	reached := bitmap.NewSet(h.Limit())
	var stack []heap.ObjectID
	visit := func(id heap.ObjectID) {
		if !reached.Has(id) {
			reached.Add(id)
			stack = append(stack, id)
		}
	}
	conservative := func(word heap.VAddr) {
		if id := h.FindObject(word.AlignDown(heap.AllocAlign)); id != heap.NoObject {
			visit(id)
		}
	}
	c.world.ForEachThread(func(t *mutator.Thread) {
		for _, word := range t.Stack() {
			conservative(word)
		}
		for _, word := range t.Handles() {
			conservative(word)
		}
	})
	for _, word := range c.world.StaticData() {
		conservative(word)
	}
	var err error
	c.world.UpdateStatics(func(statics []heap.VAddr) {
		for i, addr := range statics {
			if addr == 0 {
				continue
			}
			id := h.Lookup(addr)
			if id == heap.NoObject {
				err = fmt.Errorf("static %d: %s is not an object", i, addr)
				return
			}
			visit(id)
		}
	})
	if err != nil {
		return err
	}

	remset := h.Remset()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		o := h.Object(id)
		if o.Pinned {
			return fmt.Errorf("object %s is still pinned", o.Addr)
		}
		for i, ref := range o.Refs {
			if ref == 0 {
				continue
			}
			t := h.Lookup(ref)
			if t == heap.NoObject {
				return fmt.Errorf("object %s (%s) slot %d: dangling reference %s", o.Addr, o.Class, i, ref)
			}
			if o.Gen == heap.Old && nursery.Contains(ref) {
				if _, ok := slices.BinarySearch(remset, id); !ok && !c.cement.Lookup(ref) {
					return fmt.Errorf("old object %s (%s) references nursery object %s but is not remembered", o.Addr, o.Class, ref)
				}
			}
			visit(t)
		}
	}

	frags := h.Fragments()
	for id, o := range h.Objects(heap.Nursery) {
		r := o.Range()
		i, _ := slices.BinarySearchFunc(frags, r.Start, func(f heap.Range, addr heap.VAddr) int {
			if f.End() <= addr {
				return -1
			} else if f.Start > addr {
				return 1
			}
			return 0
		})
		if i < len(frags) && frags[i].Overlaps(r) {
			return fmt.Errorf("nursery object %d at %s overlaps free fragment %s", id, r, frags[i])
		}
	}
	return nil
}
