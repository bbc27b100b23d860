// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workers implements parallel draining of gray objects with load
// balancing.
//
// Each worker owns a private gray queue that no other goroutine touches,
// and a small stealable stack that idle peers may take work from under
// the owner's stealMu. A worker that runs out of work tries, in order,
// its own stealable stack, the shared section queue, and the stealable
// stacks of the other workers before it gives up.
//
// Workers run as the idle job of a threadpool.Pool, one pool thread per
// worker. Marking is finished when every worker is NotWorking: a worker
// only stops after finding its own queues and the shared queue empty,
// and a worker that makes work available wakes the others.
//
// Workers never decide whether an object should be scanned. Callers must
// push an object only after winning heap.TryMark for it, which is what
// guarantees no object is scanned twice in one cycle.
package workers

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"gclab/gcerr"
	"gclab/heap"
	"gclab/lfqueue"
	"gclab/threadpool"
)

const (
	// DefaultStealableStackSize is the capacity of each worker's
	// stealable stack.
	DefaultStealableStackSize = 512

	// shareInterval is how many objects a worker scans between
	// attempts to share work.
	shareInterval = 32

	// sharedSections is the capacity of the shared section queue.
	sharedSections = 1024
)

const traceWorkers = false

// State is a worker's state.
type State int32

const (
	NotWorking State = iota
	WorkEnqueued
	Working
)

func (s State) String() string {
	switch s {
	case NotWorking:
		return "not working"
	case WorkEnqueued:
		return "work enqueued"
	case Working:
		return "working"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ScanFunc scans obj, pushing every newly marked object it references
// onto w with w.Push.
type ScanFunc func(w *WorkerData, obj heap.ObjectID)

// WorkerData is the state of one worker.
type WorkerData struct {
	Index int

	// Scratch is collector-specific per-worker data. It is only
	// touched by the goroutine running the worker.
	Scratch any

	ws *Workers

	state State // Guarded by ws.finishMu

	private GrayQueue

	stealMu   sync.Mutex
	stealable []heap.ObjectID // len is the fill level
	fill      atomic.Int32    // Mirrors len(stealable) for lock-free peeking

	// Counters, owned by the worker.
	Scanned int
	Stolen  int
	Shared  int
}

// Push adds obj to w's private queue. It must only be called by the
// goroutine running w, or by the coordinator while all workers are
// NotWorking.
func (w *WorkerData) Push(obj heap.ObjectID) {
	w.private.Push(obj)
}

// QueueLen returns the length of w's private queue.
func (w *WorkerData) QueueLen() int {
	return w.private.Len()
}

// Config configures a Workers.
type Config struct {
	// Threads is the number of worker threads. With zero threads a
	// single worker drains everything on the calling goroutine.
	Threads int

	// StealableStackSize is the capacity of each stealable stack. Zero
	// means DefaultStealableStackSize.
	StealableStackSize int

	// SplitCount is the number of jobs root scanning is split into.
	// Zero derives it from the number of active workers.
	SplitCount int

	// Scratch, if set, returns the Scratch value for worker i.
	Scratch func(i int) any

	// Verbose logs worker statistics after each Join.
	Verbose bool
}

// Workers is a set of marking workers.
type Workers struct {
	cfg  Config
	pool *threadpool.Pool
	data []*WorkerData

	active atomic.Int32

	// shared holds full sections given up by busy workers. Any worker
	// may enqueue; dequeues are serialized by sharedMu.
	sharedArena *lfqueue.Arena[*Section]
	shared      *lfqueue.Queue[*Section]
	sharedMu    sync.Mutex

	finishMu   sync.Mutex
	finishCond sync.Cond
	numWorking int // Workers not NotWorking; guarded by finishMu

	scan ScanFunc // Set by StartAll while all workers are NotWorking
}

// New starts cfg.Threads worker threads.
func New(cfg Config) *Workers {
	if cfg.StealableStackSize <= 0 {
		cfg.StealableStackSize = DefaultStealableStackSize
	}
	ws := &Workers{cfg: cfg}
	ws.finishCond.L = &ws.finishMu
	n := max(cfg.Threads, 1)
	threadData := make([]any, 0, n)
	for i := range n {
		w := &WorkerData{
			Index:     i,
			ws:        ws,
			stealable: make([]heap.ObjectID, 0, cfg.StealableStackSize),
		}
		if cfg.Scratch != nil {
			w.Scratch = cfg.Scratch(i)
		}
		ws.data = append(ws.data, w)
		threadData = append(threadData, w)
	}
	ws.active.Store(int32(n))
	ws.sharedArena = lfqueue.NewArena[*Section](sharedSections + lfqueue.NumDummies)
	ws.shared = lfqueue.NewQueue(ws.sharedArena)
	ws.pool = threadpool.New(cfg.Threads, threadpool.Options{
		Idle:         ws.markerIdle,
		ContinueIdle: ws.continueIdle,
		ShouldWork:   ws.shouldWork,
		ThreadData:   threadData,
	})
	return ws
}

// NumWorkers returns the number of workers.
func (ws *Workers) NumWorkers() int {
	return len(ws.data)
}

// Worker returns worker i.
func (ws *Workers) Worker(i int) *WorkerData {
	return ws.data[i]
}

// ActiveWorkers returns the number of workers that take part in
// marking.
func (ws *Workers) ActiveWorkers() int {
	return int(ws.active.Load())
}

// SetNumActiveWorkers limits marking to the first n workers. It must be
// called while no marking is in progress.
func (ws *Workers) SetNumActiveWorkers(n int) {
	if !ws.AllDone() {
		gcerr.Throw("workers: changing active workers during marking")
	}
	n = max(1, min(n, len(ws.data)))
	ws.active.Store(int32(n))
	ws.pool.Wake()
}

// SplitCount returns how many jobs root scanning should be split into.
func (ws *Workers) SplitCount() int {
	if ws.cfg.SplitCount > 0 {
		return ws.cfg.SplitCount
	}
	if n := ws.ActiveWorkers(); n > 1 {
		return n * 4
	}
	return 1
}

func (ws *Workers) shouldWork(data any) bool {
	w := data.(*WorkerData)
	return int32(w.Index) < ws.active.Load()
}

// continueIdle is called with the pool lock held.
func (ws *Workers) continueIdle(data any) bool {
	ws.finishMu.Lock()
	defer ws.finishMu.Unlock()
	if data == nil {
		return ws.numWorking > 0
	}
	return data.(*WorkerData).state != NotWorking
}

// AllDone reports whether every worker is NotWorking.
func (ws *Workers) AllDone() bool {
	ws.finishMu.Lock()
	defer ws.finishMu.Unlock()
	return ws.numWorking == 0
}

// Pool returns the thread pool the workers run on.
func (ws *Workers) Pool() *threadpool.Pool {
	return ws.pool
}

// EnqueueJob runs job on a worker thread, or on the caller if enqueue is
// false or there are no worker threads. Jobs receive the *WorkerData of
// the worker they run on and may Push onto it; those objects are drained
// by the next StartAll. Jobs must be enqueued while no marking is in
// progress.
func (ws *Workers) EnqueueJob(job *threadpool.Job, enqueue bool) {
	if !enqueue || ws.cfg.Threads == 0 {
		if !ws.AllDone() {
			gcerr.Throw("workers: running a job on the coordinator during marking")
		}
		job.Func(ws.data[0], job)
		return
	}
	ws.pool.Enqueue(job)
}

// WaitForJobs waits for all enqueued jobs.
func (ws *Workers) WaitForJobs() {
	ws.pool.WaitForAllJobs()
}

// DistributeGrayQueueSections moves the objects of q evenly into the
// private queues of the active workers. It must be called while all
// workers are NotWorking.
func (ws *Workers) DistributeGrayQueueSections(q *GrayQueue) {
	if !ws.AllDone() {
		gcerr.Throw("workers: distributing during marking")
	}
	n := ws.ActiveWorkers()
	i := 0
	for {
		s := q.DequeueSection()
		if s == nil {
			break
		}
		ws.data[i%n].private.EnqueueSection(s)
		i++
	}
	// Deal the rest out one object at a time.
	for {
		obj, ok := q.Pop()
		if !ok {
			break
		}
		ws.data[i%n].private.Push(obj)
		i++
	}
}

// StartAll starts all active workers draining their queues with scan.
// With no worker threads, it drains everything before returning.
func (ws *Workers) StartAll(scan ScanFunc) {
	ws.finishMu.Lock()
	if ws.numWorking != 0 {
		ws.finishMu.Unlock()
		gcerr.Throw("workers: StartAll during marking")
	}
	ws.scan = scan
	n := ws.ActiveWorkers()
	for _, w := range ws.data[:n] {
		w.state = WorkEnqueued
	}
	ws.numWorking = n
	ws.finishMu.Unlock()

	if ws.cfg.Threads == 0 {
		ws.markerIdle(ws.data[0])
		return
	}
	ws.pool.IdleSignal()
}

// Join waits until all workers are NotWorking.
func (ws *Workers) Join() {
	ws.finishMu.Lock()
	for ws.numWorking > 0 {
		ws.finishCond.Wait()
	}
	ws.finishMu.Unlock()
	if ws.cfg.Verbose {
		for _, w := range ws.data[:ws.ActiveWorkers()] {
			log.Printf("worker %d: scanned %d, stolen %d, shared %d", w.Index, w.Scanned, w.Stolen, w.Shared)
		}
	}
}

// ResetCounters zeroes every worker's counters.
func (ws *Workers) ResetCounters() {
	for _, w := range ws.data {
		w.Scanned, w.Stolen, w.Shared = 0, 0, 0
	}
}

// Shutdown stops the worker threads.
func (ws *Workers) Shutdown() {
	ws.pool.Shutdown()
}

// ensureAwake moves every NotWorking active worker to WorkEnqueued and
// wakes the pool.
func (ws *Workers) ensureAwake() {
	woke := false
	ws.finishMu.Lock()
	n := ws.ActiveWorkers()
	for _, w := range ws.data[:n] {
		if w.state == NotWorking {
			w.state = WorkEnqueued
			ws.numWorking++
			woke = true
		}
	}
	ws.finishMu.Unlock()
	if woke && ws.cfg.Threads > 0 {
		ws.pool.IdleSignal()
	}
}

// markerIdle is the pool's idle job: drain until there is no work left
// anywhere.
func (ws *Workers) markerIdle(data any) {
	w := data.(*WorkerData)
	ws.finishMu.Lock()
	switch w.state {
	case NotWorking:
		ws.finishMu.Unlock()
		return
	case WorkEnqueued:
		w.state = Working
	}
	scan := ws.scan
	ws.finishMu.Unlock()

	for {
		w.drain(scan)
		if w.popOwnStealable() || w.takeShared() || w.stealFromPeers() {
			continue
		}
		if w.tryFinish() {
			return
		}
	}
}

func (w *WorkerData) drain(scan ScanFunc) {
	n := 0
	for {
		obj, ok := w.private.Pop()
		if !ok {
			return
		}
		scan(w, obj)
		w.Scanned++
		if n++; n%shareInterval == 0 {
			w.share()
		}
	}
}

// share makes part of w's private queue available to other workers.
func (w *WorkerData) share() {
	ws := w.ws
	if ws.ActiveWorkers() == 1 {
		return
	}
	shared := false
	// Hand full sections to the shared queue.
	if w.private.Len() > 2*SectionSize && ws.shared.Empty() {
		if s := w.private.DequeueSection(); s != nil {
			h, ok := ws.sharedArena.Alloc(s)
			if ok {
				ws.shared.Enqueue(h)
				w.Shared += s.n
				shared = true
			} else {
				w.private.EnqueueSection(s)
			}
		}
	}
	// Refill the stealable stack if it's empty.
	if w.fill.Load() == 0 && w.private.Len() > 1 {
		w.stealMu.Lock()
		if len(w.stealable) == 0 {
			n := min(cap(w.stealable), w.private.Len()/2)
			for range n {
				obj, _ := w.private.Pop()
				w.stealable = append(w.stealable, obj)
			}
			w.fill.Store(int32(len(w.stealable)))
			w.Shared += n
			shared = shared || n > 0
		}
		w.stealMu.Unlock()
	}
	if shared {
		if traceWorkers {
			println("worker", w.Index, "shared work")
		}
		ws.ensureAwake()
	}
}

// popOwnStealable moves w's stealable stack back into its private queue.
func (w *WorkerData) popOwnStealable() bool {
	if w.fill.Load() == 0 {
		return false
	}
	w.stealMu.Lock()
	for _, obj := range w.stealable {
		w.private.Push(obj)
	}
	n := len(w.stealable)
	w.stealable = w.stealable[:0]
	w.fill.Store(0)
	w.stealMu.Unlock()
	return n > 0
}

// takeShared moves one section from the shared queue into w's private
// queue.
func (w *WorkerData) takeShared() bool {
	ws := w.ws
	ws.sharedMu.Lock()
	h, ok := ws.shared.Dequeue()
	ws.sharedMu.Unlock()
	if !ok {
		return false
	}
	s := *ws.sharedArena.Value(h)
	ws.sharedArena.Free(h)
	w.private.EnqueueSection(s)
	return true
}

// stealFromPeers takes up to half of some other worker's stealable
// stack.
func (w *WorkerData) stealFromPeers() bool {
	ws := w.ws
	n := ws.ActiveWorkers()
	for i := 1; i < n; i++ {
		victim := ws.data[(w.Index+i)%n]
		if victim.fill.Load() == 0 {
			continue
		}
		victim.stealMu.Lock()
		fill := len(victim.stealable)
		take := (fill + 1) / 2
		for _, obj := range victim.stealable[fill-take:] {
			w.private.Push(obj)
		}
		victim.stealable = victim.stealable[:fill-take]
		victim.fill.Store(int32(len(victim.stealable)))
		victim.stealMu.Unlock()
		if take > 0 {
			w.Stolen += take
			return true
		}
	}
	return false
}

// tryFinish moves w to NotWorking if there is still no work for it. It
// reports whether it did.
func (w *WorkerData) tryFinish() bool {
	ws := w.ws
	ws.finishMu.Lock()
	defer ws.finishMu.Unlock()
	if !w.private.IsEmpty() || w.fill.Load() != 0 || !ws.shared.Empty() {
		return false
	}
	w.state = NotWorking
	ws.numWorking--
	if ws.numWorking == 0 {
		ws.finishCond.Broadcast()
	}
	return true
}
