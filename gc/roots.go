// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"gclab/gcerr"
	"gclab/heap"
	"gclab/mutator"
	"gclab/pinning"
)

// collected reports whether objects of generation gen are collected by
// cy. Nursery collections leave the old generation alone.
func (cy *cycle) collected(gen heap.Generation) bool {
	return cy.major || gen == heap.Nursery
}

// pinRoots scans the conservative roots, stages every address that
// points into a collected object, and pins and marks those objects.
func (c *Collector) pinRoots(cy *cycle) {
	h := c.heap
	stage := func(word heap.VAddr, t pinning.PinType) {
		addr := word.AlignDown(heap.AllocAlign)
		id := h.FindObject(addr)
		if id == heap.NoObject || !cy.collected(h.Object(id).Gen) {
			return
		}
		c.queue.Stage(addr)
		c.pins.RegisterAddress(word, t)
	}

	c.world.ForEachThread(func(t *mutator.Thread) {
		for _, word := range t.Stack() {
			stage(word, pinning.PinStack)
		}
		for _, word := range t.Handles() {
			if word != 0 {
				stage(word, pinning.PinOther)
			}
		}
	})
	for _, word := range c.world.StaticData() {
		stage(word, pinning.PinStaticData)
	}
	if !cy.major {
		c.cement.ForcePinned()
		c.cement.PinCemented(func(addr heap.VAddr) {
			if h.FindObject(addr) != heap.NoObject {
				c.queue.Stage(addr)
			}
		})
	}
	c.queue.Optimize()
	if c.queue.Len() == 0 {
		return
	}

	for gen := range heap.Generation(heap.NumGenerations) {
		if !cy.collected(gen) {
			continue
		}
		for id, o := range h.Objects(gen) {
			if len(c.queue.Find(o.Range())) == 0 {
				continue
			}
			o.Pinned = true
			cy.pinned = append(cy.pinned, id)
			c.pins.RegisterObject(o.Addr, o.Size, o.Class)
			if h.TryMark(id) {
				cy.gray.Push(id)
			}
		}
	}
	cy.stats.Pinned = len(cy.pinned)
}

// markStatics marks the objects referenced by precise static roots.
func (c *Collector) markStatics(cy *cycle) {
	h := c.heap
	c.world.UpdateStatics(func(statics []heap.VAddr) {
		for i, addr := range statics {
			if addr == 0 {
				continue
			}
			id := h.Lookup(addr)
			if id == heap.NoObject {
				gcerr.Throwf("static %d: %s is not an object", i, addr)
			}
			if cy.collected(h.Object(id).Gen) && h.TryMark(id) {
				cy.gray.Push(id)
			}
		}
	})
}
