// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mutator simulates the application threads of a managed
// runtime: their stacks, their pinning handles, and the static roots
// they share.
//
// Mutator threads run with the world lock held shared. A collector stops
// the world by taking it exclusively, after which every root is stable
// until the world is started again.
package mutator

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"gclab/heap"
	"gclab/sampler"
)

// ErrThreadExited is returned when walking the stack of a thread that
// has exited.
var ErrThreadExited = errors.New("thread exited")

// A Collector collects the heap of a World.
type Collector interface {
	// Collect runs a nursery collection, or a major collection if
	// major is set. It stops and restarts the world itself.
	Collect(major bool) error
}

// World is the set of mutator threads and global roots.
type World struct {
	Heap *heap.Heap

	mu sync.RWMutex // Held shared by running mutators

	// epoch counts stop-the-world pauses. It is incremented with mu
	// held exclusively.
	epoch atomic.Uint64

	collectMu sync.Mutex
	collector Collector

	// resume, if set, runs when the world is next started, before any
	// mutator can run.
	resume atomic.Pointer[func()]

	threadsMu sync.Mutex
	threads   map[sampler.ThreadID]*Thread
	nextTID   sampler.ThreadID

	// statics are precise static roots. The collector updates them
	// when objects move.
	staticsMu sync.Mutex
	statics   []heap.VAddr

	// staticData is conservatively scanned static memory. Anything it
	// points to is pinned.
	staticData []heap.VAddr
}

// NewWorld returns a world with no threads over h.
func NewWorld(h *heap.Heap) *World {
	return &World{
		Heap:    h,
		threads: make(map[sampler.ThreadID]*Thread),
		nextTID: 1,
	}
}

// SetCollector sets the collector run when allocation fails.
func (w *World) SetCollector(c Collector) {
	w.collectMu.Lock()
	w.collector = c
	w.collectMu.Unlock()
}

// StopTheWorld waits for every mutator to leave Do and keeps them out
// until StartTheWorld.
func (w *World) StopTheWorld() {
	w.mu.Lock()
	w.epoch.Add(1)
}

// StartTheWorld lets mutators run again.
func (w *World) StartTheWorld() {
	if f := w.resume.Swap(nil); f != nil {
		(*f)()
	}
	w.mu.Unlock()
}

// Epoch returns the number of stop-the-world pauses so far.
func (w *World) Epoch() uint64 {
	return w.epoch.Load()
}

// collect runs a collection on behalf of a mutator that observed epoch
// before giving up the world lock. If another pause happened in the
// meantime the collection is skipped, ran is false, and the caller
// simply retries. Otherwise resume runs at the end of the next pause,
// while the world is still stopped.
func (w *World) collect(major bool, epoch uint64, resume func()) (ran bool, err error) {
	w.collectMu.Lock()
	defer w.collectMu.Unlock()
	if w.collector == nil {
		return false, fmt.Errorf("no collector")
	}
	if w.epoch.Load() != epoch {
		return false, nil
	}
	p := &resume
	w.resume.Store(p)
	err = w.collector.Collect(major)
	w.resume.CompareAndSwap(p, nil)
	return true, err
}

// NewThread registers a new mutator thread.
func (w *World) NewThread() *Thread {
	w.threadsMu.Lock()
	defer w.threadsMu.Unlock()
	t := &Thread{ID: w.nextTID, w: w}
	w.nextTID++
	w.threads[t.ID] = t
	return t
}

// Threads returns the IDs of the live threads in increasing order. It
// implements sampler.Runtime.
func (w *World) Threads() []sampler.ThreadID {
	w.threadsMu.Lock()
	defer w.threadsMu.Unlock()
	ids := make([]sampler.ThreadID, 0, len(w.threads))
	for id := range w.threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// WalkStack calls fn for each frame of thread tid, innermost first,
// until fn returns false. It implements sampler.Runtime.
func (w *World) WalkStack(tid sampler.ThreadID, fn func(sampler.Frame) bool) error {
	w.threadsMu.Lock()
	t := w.threads[tid]
	w.threadsMu.Unlock()
	if t == nil {
		return fmt.Errorf("thread %d: %w", tid, ErrThreadExited)
	}
	t.framesMu.Lock()
	frames := slices.Clone(t.frames)
	exited := t.exited
	t.framesMu.Unlock()
	if exited {
		return fmt.Errorf("thread %d: %w", tid, ErrThreadExited)
	}
	for i := len(frames) - 1; i >= 0; i-- {
		if !fn(frames[i]) {
			break
		}
	}
	return nil
}

// ForEachThread calls fn for every live thread. The world must be
// stopped.
func (w *World) ForEachThread(fn func(t *Thread)) {
	w.threadsMu.Lock()
	ts := make([]*Thread, 0, len(w.threads))
	for _, t := range w.threads {
		ts = append(ts, t)
	}
	w.threadsMu.Unlock()
	slices.SortFunc(ts, func(a, b *Thread) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for _, t := range ts {
		fn(t)
	}
}

// AddStatic adds a precise static root holding addr and returns its
// index.
func (w *World) AddStatic(addr heap.VAddr) int {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	w.statics = append(w.statics, addr)
	return len(w.statics) - 1
}

// Static returns static root i.
func (w *World) Static(i int) heap.VAddr {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	return w.statics[i]
}

// SetStatic stores addr in static root i.
func (w *World) SetStatic(i int, addr heap.VAddr) {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	w.statics[i] = addr
}

// UpdateStatics calls fn with the precise static roots, which fn may
// update in place.
func (w *World) UpdateStatics(fn func(statics []heap.VAddr)) {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	fn(w.statics)
}

// AddStaticData adds a word of conservatively scanned static data and
// returns its index.
func (w *World) AddStaticData(word heap.VAddr) int {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	w.staticData = append(w.staticData, word)
	return len(w.staticData) - 1
}

// SetStaticData stores word in static data word i.
func (w *World) SetStaticData(i int, word heap.VAddr) {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	w.staticData[i] = word
}

// StaticData returns a copy of the conservatively scanned static words.
func (w *World) StaticData() []heap.VAddr {
	w.staticsMu.Lock()
	defer w.staticsMu.Unlock()
	return slices.Clone(w.staticData)
}
