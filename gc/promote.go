// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"

	"gclab/heap"
)

// promote moves every marked nursery object that is not pinned to the
// old generation. If the old generation fills up, the remaining
// survivors stay in the nursery until the next collection and cy.err
// reports the failure.
func (c *Collector) promote(cy *cycle) {
	h := c.heap
	for id, o := range h.Objects(heap.Nursery) {
		if o.Pinned || !h.Marked(id) {
			continue
		}
		size := o.Size
		from, to, err := h.Promote(id)
		if err != nil {
			cy.err = fmt.Errorf("promoting nursery survivors: %w", err)
			return
		}
		cy.fwd[from] = to
		cy.promoted = append(cy.promoted, id)
		cy.stats.Promoted++
		cy.stats.PromotedBytes += size
	}
}

// fixup rewrites references to promoted objects. Only marked objects
// and, in a nursery collection, the remembered set can hold them.
func (c *Collector) fixup(cy *cycle) {
	if len(cy.fwd) == 0 {
		return
	}
	h := c.heap
	fix := func(o *heap.Object) {
		for i, ref := range o.Refs {
			if to, ok := cy.fwd[ref]; ok {
				o.Refs[i] = to
			}
		}
	}
	for gen := range heap.Generation(heap.NumGenerations) {
		for id, o := range h.Objects(gen) {
			if h.Marked(id) {
				fix(o)
			}
		}
	}
	if !cy.major {
		for _, id := range h.Remset() {
			fix(h.Object(id))
		}
	}
	c.world.UpdateStatics(func(statics []heap.VAddr) {
		for i, addr := range statics {
			if to, ok := cy.fwd[addr]; ok {
				statics[i] = to
			}
		}
	})
}

// rebuildRemset recomputes the remembered set after the nursery has
// been evacuated. Every old object that still references a nursery
// object, which is now necessarily pinned, needs a global remset entry
// unless the target is cemented.
func (c *Collector) rebuildRemset(cy *cycle) {
	h := c.heap
	nursery := h.NurseryRange()
	var rs []heap.ObjectID
	check := func(id heap.ObjectID) {
		need := false
		for _, ref := range h.Object(id).Refs {
			if !nursery.Contains(ref) {
				continue
			}
			if c.cement.LookupOrRegister(ref) {
				continue
			}
			need = true
			c.pins.RegisterGlobalRemset(h.Object(h.Lookup(ref)).Class)
		}
		if need {
			rs = append(rs, id)
		}
	}
	if cy.major {
		for id := range h.Objects(heap.Old) {
			if h.Marked(id) {
				check(id)
			}
		}
	} else {
		// Old objects outside the remembered set cannot reference the
		// nursery, so only it and the newly promoted objects need
		// checking.
		for _, id := range h.Remset() {
			check(id)
		}
		for _, id := range cy.promoted {
			check(id)
		}
	}
	h.SetRemset(rs)
	cy.stats.Remset = len(rs)
}
