// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"gclab/dac"
	"gclab/heap"
)

// Snapshot publishes the heap as a memory image that a DAC walker can
// read. The nursery is generation 0 with its first free fragment as the
// allocation context. The used part of the old generation is
// generation 1. Snapshot waits for background sweeping and stops the
// world while it copies the heap.
func (c *Collector) Snapshot() (*dac.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeper.wait()
	c.world.StopTheWorld()
	defer c.world.StartTheWorld()

	h := c.heap
	objects := func(gen heap.Generation) []dac.ObjectSpec {
		var specs []dac.ObjectSpec
		for _, o := range h.Objects(gen) {
			refs := make([]dac.TAddr, len(o.Refs))
			for i, r := range o.Refs {
				refs[i] = dac.TAddr(r)
			}
			specs = append(specs, dac.ObjectSpec{
				Addr:  dac.TAddr(o.Addr),
				Size:  uint64(o.Size),
				Class: o.Class,
				Refs:  refs,
			})
		}
		return specs
	}

	nursery := h.NurseryRange()
	gen0 := dac.GenerationSpec{
		Segments: []dac.SegmentSpec{{
			Mem:       dac.TAddr(nursery.Start),
			Allocated: dac.TAddr(nursery.End()),
			Objects:   objects(heap.Nursery),
		}},
	}
	if frags := h.Fragments(); len(frags) > 0 {
		gen0.AllocPtr = dac.TAddr(frags[0].Start)
		gen0.AllocLimit = dac.TAddr(frags[0].End())
	}

	var gen1 dac.GenerationSpec
	if old := h.OldRange(); old.Len > 0 {
		gen1.Segments = []dac.SegmentSpec{{
			Mem:       dac.TAddr(old.Start),
			Allocated: dac.TAddr(old.End()),
			Objects:   objects(heap.Old),
		}}
	}

	var b dac.Builder
	b.AddHeap(gen0, gen1)
	return b.Build()
}
