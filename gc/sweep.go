// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"sync/atomic"

	"gclab/heap"
	"gclab/threadpool"
)

// sweepChunk is the number of object IDs swept per idle step.
const sweepChunk = 256

// sweeper sweeps the old generation in the background after a major
// collection. It runs as the idle job of a one-thread pool, in chunks so
// mutators allocating between chunks are not held up for long.
//
// Objects allocated while the sweep runs are allocated black, and IDs
// at or above the limit are never swept, so the sweep only frees
// objects that were unreachable when marking finished.
type sweeper struct {
	heap *heap.Heap
	pool *threadpool.Pool

	next   atomic.Uint32 // Next ObjectID to sweep
	limit  atomic.Uint32
	active atomic.Int32 // Chunks being swept

	objects atomic.Int64
	bytes   atomic.Uint64
}

func newSweeper(h *heap.Heap) *sweeper {
	s := &sweeper{heap: h}
	s.pool = threadpool.New(1, threadpool.Options{
		Idle:         s.idle,
		ContinueIdle: s.continueIdle,
	})
	return s
}

// start sweeps IDs below limit in the background.
func (s *sweeper) start(limit heap.ObjectID) {
	s.next.Store(1)
	s.limit.Store(uint32(limit))
	s.pool.IdleSignal()
}

func (s *sweeper) continueIdle(any) bool {
	return s.pending()
}

// pending reports whether a sweep is unfinished.
func (s *sweeper) pending() bool {
	return s.next.Load() < s.limit.Load() || s.active.Load() > 0
}

func (s *sweeper) idle(any) {
	s.active.Add(1)
	defer s.active.Add(-1)
	lo := s.next.Add(sweepChunk) - sweepChunk
	limit := s.limit.Load()
	if lo >= limit {
		return
	}
	r := benchSweep.Start()
	n, b := s.heap.SweepRange(heap.Old, heap.ObjectID(lo), heap.ObjectID(min(lo+sweepChunk, limit)))
	metricSwept.Set(r, float64(n))
	r.Done()
	s.objects.Add(int64(n))
	s.bytes.Add(uint64(b))
}

// wait blocks until the current sweep, if any, is done.
func (s *sweeper) wait() {
	s.pool.IdleWait()
}

// swept returns the totals freed by background sweeps.
func (s *sweeper) swept() (objects int64, bytes heap.Bytes) {
	return s.objects.Load(), heap.Bytes(s.bytes.Load())
}

func (s *sweeper) shutdown() {
	s.pool.Shutdown()
}
