// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"gclab/gcerr"
	"gclab/heap"
	"gclab/layoutstats"
	"gclab/threadpool"
	"gclab/workers"
)

// workerScratch is the per-worker state of marking.
type workerScratch struct {
	layout  layoutstats.Counter
	builder layoutstats.Builder
}

// mark marks everything reachable from the gray roots and, in a nursery
// collection, from the remembered set.
func (c *Collector) mark(cy *cycle) {
	ws := c.workers
	ws.ResetCounters()
	ws.DistributeGrayQueueSections(&cy.gray)
	if !cy.major {
		c.scanRemset()
	}
	ws.StartAll(c.scanFunc(cy.major))
	ws.Join()
	for i := range ws.NumWorkers() {
		c.layout.Merge(&ws.Worker(i).Scratch.(*workerScratch).layout)
	}
	cy.stats.Marked = c.heap.NumMarked()
}

// scanRemset marks the nursery objects referenced by the remembered
// set. The set is split into jobs that run on the workers, which drain
// what the jobs push once marking starts.
func (c *Collector) scanRemset() {
	h := c.heap
	nursery := h.NurseryRange()
	rs := h.Remset()
	if len(rs) == 0 {
		return
	}
	ws := c.workers
	n := min(ws.SplitCount(), len(rs))
	for i := range n {
		part := rs[len(rs)*i/n : len(rs)*(i+1)/n]
		job := threadpool.NewJob("scan remset", func(data any, job *threadpool.Job) {
			w := data.(*workers.WorkerData)
			for _, id := range job.Payload.([]heap.ObjectID) {
				for _, ref := range h.Object(id).Refs {
					if !nursery.Contains(ref) {
						continue
					}
					t := lookupRef(h, id, ref)
					if h.TryMark(t) {
						w.Push(t)
					}
				}
			}
		}, part)
		ws.EnqueueJob(job, true)
	}
	ws.WaitForJobs()
}

// scanFunc returns the function workers scan gray objects with. A
// nursery collection does not follow references out of the nursery.
func (c *Collector) scanFunc(major bool) workers.ScanFunc {
	h := c.heap
	nursery := h.NurseryRange()
	return func(w *workers.WorkerData, id heap.ObjectID) {
		s := w.Scratch.(*workerScratch)
		for i, ref := range h.Object(id).Refs {
			if ref == 0 {
				continue
			}
			s.builder.MarkSlot(i)
			if !major && !nursery.Contains(ref) {
				continue
			}
			t := lookupRef(h, id, ref)
			if h.TryMark(t) {
				w.Push(t)
			}
		}
		s.layout.Commit(&s.builder)
	}
}

// lookupRef returns the object a reference slot of from points to.
// Reference slots always hold object start addresses.
func lookupRef(h *heap.Heap, from heap.ObjectID, ref heap.VAddr) heap.ObjectID {
	t := h.Lookup(ref)
	if t == heap.NoObject {
		gcerr.Throwf("object %s: dangling reference %s", h.Object(from).Addr, ref)
	}
	return t
}
