// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lfqueue implements a lock-free FIFO queue of arena handles.
//
// Nodes live in a fixed-capacity Arena and are named by Handle. Links
// between nodes, and the queue's head and tail, are 64-bit words packing
// a handle with a modification tag, so every compare-and-swap is on a
// handle-sized value and a recycled node can never be mistaken for its
// previous incarnation (the ABA problem).
//
// The queue always contains at least one node. The algorithm dequeues
// the head node itself, so the last real node in the queue can only be
// dequeued once something is linked behind it. For that purpose the queue
// owns NumDummies dummy nodes: when a consumer finds a single real node
// it enqueues a free dummy behind it, and dummies that reach the head are
// dropped and recycled. More than one dummy is needed because a dummy
// that was just dequeued may still be referenced by a racing enqueuer.
package lfqueue

import (
	"sync"
	"sync/atomic"

	"gclab/gcerr"
)

// NumDummies is the number of dummy nodes each queue owns.
const NumDummies = 2

// Handle names a node in an Arena. The zero Handle is nil.
type Handle uint32

const (
	endMarker   Handle = 0
	invalidNext Handle = ^Handle(0)
)

// link packs a handle with a tag.
type link uint64

func pack(h Handle, tag uint32) link {
	return link(uint64(tag)<<32 | uint64(h))
}

func (l link) handle() Handle {
	return Handle(uint32(l))
}

func (l link) tag() uint32 {
	return uint32(l >> 32)
}

type node struct {
	next    atomic.Uint64 // link
	inQueue atomic.Bool
	freed   atomic.Bool // Poisoned by Arena.Free
}

// Arena is a fixed-capacity pool of nodes carrying values of type T.
// Node storage never moves, so a stale handle can always be
// dereferenced safely.
type Arena[T any] struct {
	nodes []node // nodes[0] is unused
	vals  []T

	mu   sync.Mutex
	free []Handle
}

// NewArena returns an arena with room for capacity nodes, including
// the dummies of every queue built on it.
func NewArena[T any](capacity int) *Arena[T] {
	a := &Arena[T]{
		nodes: make([]node, capacity+1),
		vals:  make([]T, capacity+1),
		free:  make([]Handle, 0, capacity),
	}
	for h := capacity; h >= 1; h-- {
		a.free = append(a.free, Handle(h))
	}
	return a
}

// Alloc returns an unused node initialized with val, or false if the
// arena is exhausted.
func (a *Arena[T]) Alloc(val T) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return 0, false
	}
	h := a.free[n-1]
	a.free = a.free[:n-1]
	nd := &a.nodes[h]
	nd.freed.Store(false)
	nd.next.Store(uint64(pack(endMarker, link(nd.next.Load()).tag()+1)))
	a.vals[h] = val
	return h, true
}

// Free returns h to the arena. Freeing a node that is still in a queue
// or was already freed is fatal.
func (a *Arena[T]) Free(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	nd := a.node(h)
	if nd.inQueue.Load() {
		gcerr.Throwf("lfqueue: freeing node %d that is still in a queue", h)
	}
	if nd.freed.Load() {
		gcerr.Throwf("lfqueue: double free of node %d", h)
	}
	nd.freed.Store(true)
	nd.next.Store(uint64(pack(invalidNext, link(nd.next.Load()).tag()+1)))
	var zero T
	a.vals[h] = zero
	a.free = append(a.free, h)
}

// Value returns a pointer to h's value. The caller must own h.
func (a *Arena[T]) Value(h Handle) *T {
	if h == 0 || int(h) >= len(a.vals) {
		gcerr.Throwf("lfqueue: bad handle %d", h)
	}
	return &a.vals[h]
}

func (a *Arena[T]) node(h Handle) *node {
	if h == 0 || int(h) >= len(a.nodes) {
		gcerr.Throwf("lfqueue: bad handle %d", h)
	}
	return &a.nodes[h]
}

type dummy struct {
	h     Handle
	inUse atomic.Bool
}

// Queue is a lock-free FIFO of nodes from an Arena. Enqueue may be
// called by any number of goroutines concurrently. Dequeue may be called
// by one goroutine at a time; callers that share a queue between
// consumers must serialize Dequeue themselves.
type Queue[T any] struct {
	a *Arena[T]

	head atomic.Uint64 // link
	tail atomic.Uint64 // link

	dummies  [NumDummies]dummy
	hasDummy atomic.Bool
}

// NewQueue returns an empty queue whose nodes come from a. It allocates
// the queue's dummy nodes from a.
func NewQueue[T any](a *Arena[T]) *Queue[T] {
	q := &Queue[T]{a: a}
	for i := range q.dummies {
		var zero T
		h, ok := a.Alloc(zero)
		if !ok {
			gcerr.Throw("lfqueue: arena too small for queue dummies")
		}
		q.dummies[i].h = h
	}
	d := &q.dummies[0]
	d.inUse.Store(true)
	q.a.node(d.h).inQueue.Store(true)
	q.head.Store(uint64(pack(d.h, 0)))
	q.tail.Store(uint64(pack(d.h, 0)))
	q.hasDummy.Store(true)
	return q
}

func (q *Queue[T]) isDummy(h Handle) bool {
	for i := range q.dummies {
		if q.dummies[i].h == h {
			return true
		}
	}
	return false
}

func (q *Queue[T]) dummyFor(h Handle) *dummy {
	for i := range q.dummies {
		if q.dummies[i].h == h {
			return &q.dummies[i]
		}
	}
	return nil
}

// Enqueue appends h to the tail of the queue. Enqueueing a node that is
// already in a queue is fatal.
func (q *Queue[T]) Enqueue(h Handle) {
	nd := q.a.node(h)
	if nd.freed.Load() {
		gcerr.Throwf("lfqueue: enqueueing freed node %d", h)
	}
	if !nd.inQueue.CompareAndSwap(false, true) {
		gcerr.Throwf("lfqueue: node %d enqueued twice", h)
	}
	q.enqueue(h, nd)
}

func (q *Queue[T]) enqueue(h Handle, nd *node) {
	// Reset the link. Bumping the tag makes any stale CAS against the
	// previous value of this word fail.
	old := link(nd.next.Load())
	nd.next.Store(uint64(pack(endMarker, old.tag()+1)))

	var tail link
	for {
		tail = link(q.tail.Load())
		tnd := q.a.node(tail.handle())
		next := link(tnd.next.Load())
		if tail != link(q.tail.Load()) {
			continue
		}
		if next.handle() == endMarker {
			if tnd.next.CompareAndSwap(uint64(next), uint64(pack(h, next.tag()+1))) {
				break
			}
		} else {
			// Tail is lagging. Help it along.
			q.tail.CompareAndSwap(uint64(tail), uint64(pack(next.handle(), tail.tag()+1)))
		}
	}
	q.tail.CompareAndSwap(uint64(tail), uint64(pack(h, tail.tag()+1)))
}

// tryReenqueueDummy enqueues a free dummy if the queue has none. It
// reports whether it did.
func (q *Queue[T]) tryReenqueueDummy() bool {
	if q.hasDummy.Load() {
		return false
	}
	var d *dummy
	for i := range q.dummies {
		if q.dummies[i].inUse.CompareAndSwap(false, true) {
			d = &q.dummies[i]
			break
		}
	}
	if d == nil {
		return false
	}
	if !q.hasDummy.CompareAndSwap(false, true) {
		d.inUse.Store(false)
		return false
	}
	nd := q.a.node(d.h)
	if !nd.inQueue.CompareAndSwap(false, true) {
		gcerr.Throwf("lfqueue: dummy %d already in queue", d.h)
	}
	q.enqueue(d.h, nd)
	return true
}

// Dequeue removes and returns the node at the head of the queue. It
// returns false if the queue is empty.
func (q *Queue[T]) Dequeue() (Handle, bool) {
retry:
	var head link
	for {
		head = link(q.head.Load())
		tail := link(q.tail.Load())
		hnd := q.a.node(head.handle())
		next := link(hnd.next.Load())
		if head != link(q.head.Load()) {
			continue
		}
		if head.handle() == tail.handle() {
			if next.handle() == endMarker {
				// Only one node is left. If it's a real node, put a
				// dummy behind it so it can be dequeued. We only
				// continue if we enqueued the dummy ourselves, so we
				// never wait on another goroutine.
				if !q.isDummy(head.handle()) && q.tryReenqueueDummy() {
					continue
				}
				return 0, false
			}
			// Tail is lagging.
			q.tail.CompareAndSwap(uint64(tail), uint64(pack(next.handle(), tail.tag()+1)))
			continue
		}
		if next.handle() == endMarker || next.handle() == invalidNext {
			// We read next from a node that was dequeued since we
			// loaded head. The head CAS below would fail anyway.
			continue
		}
		if q.head.CompareAndSwap(uint64(head), uint64(pack(next.handle(), head.tag()+1))) {
			break
		}
	}

	h := head.handle()
	nd := q.a.node(h)
	// Poison the link so a buggy re-read is caught.
	nd.next.Store(uint64(pack(invalidNext, link(nd.next.Load()).tag()+1)))
	nd.inQueue.Store(false)

	if d := q.dummyFor(h); d != nil {
		if !q.hasDummy.Load() {
			gcerr.Throw("lfqueue: dequeued a dummy while none was queued")
		}
		q.hasDummy.Store(false)
		d.inUse.Store(false)
		if q.tryReenqueueDummy() {
			goto retry
		}
		return 0, false
	}
	return h, true
}

// Empty reports whether the queue currently holds no real nodes. The
// answer may be stale as soon as it is returned.
func (q *Queue[T]) Empty() bool {
	head := link(q.head.Load())
	if !q.isDummy(head.handle()) {
		return false
	}
	next := link(q.a.node(head.handle()).next.Load())
	return next.handle() == endMarker
}
