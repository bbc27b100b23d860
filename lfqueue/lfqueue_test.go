// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lfqueue

import (
	"sync"
	"testing"

	"gclab/gcerr"
)

func TestQueueFIFO(t *testing.T) {
	a := NewArena[int](16)
	q := NewQueue(a)

	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue on empty queue succeeded")
	}
	if !q.Empty() {
		t.Fatal("new queue not empty")
	}

	var hs []Handle
	for i := range 5 {
		h, ok := a.Alloc(i)
		if !ok {
			t.Fatal("arena exhausted")
		}
		hs = append(hs, h)
		q.Enqueue(h)
	}
	for i := range 5 {
		h, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: queue empty", i)
		}
		if got := *a.Value(h); got != i {
			t.Fatalf("Dequeue %d returned value %d", i, got)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue after draining succeeded")
	}

	// Nodes can be reused after they are dequeued.
	q.Enqueue(hs[0])
	if h, ok := q.Dequeue(); !ok || h != hs[0] {
		t.Fatalf("re-enqueued node: got %d, %v", h, ok)
	}
	for _, h := range hs {
		a.Free(h)
	}
}

func TestQueueSingleElement(t *testing.T) {
	// Alternate single enqueues and dequeues to exercise the dummy
	// recycling at the empty boundary.
	a := NewArena[int](8)
	q := NewQueue(a)
	h, _ := a.Alloc(42)
	for i := range 100 {
		q.Enqueue(h)
		got, ok := q.Dequeue()
		if !ok || got != h {
			t.Fatalf("iteration %d: got %d, %v", i, got, ok)
		}
		if _, ok := q.Dequeue(); ok {
			t.Fatalf("iteration %d: queue not empty", i)
		}
	}
}

func TestQueueMPSC(t *testing.T) {
	const producers = 8
	const perProducer = 2000

	a := NewArena[[2]int](producers*perProducer + NumDummies)
	q := NewQueue(a)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				h, ok := a.Alloc([2]int{p, i})
				if !ok {
					panic("arena exhausted")
				}
				q.Enqueue(h)
			}
		}()
	}

	seen := make(map[Handle]bool)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	count := 0
	finished := false
	for {
		h, ok := q.Dequeue()
		if !ok {
			if finished {
				break
			}
			select {
			case <-done:
				// Producers are done. One more full drain.
				finished = true
			default:
			}
			continue
		}
		if seen[h] {
			t.Fatalf("node %d dequeued twice", h)
		}
		seen[h] = true
		v := *a.Value(h)
		// Each producer's nodes come out in the order it enqueued
		// them.
		if v[1] <= last[v[0]] {
			t.Fatalf("producer %d: got %d after %d", v[0], v[1], last[v[0]])
		}
		last[v[0]] = v[1]
		count++
	}
	if count != producers*perProducer {
		t.Fatalf("dequeued %d nodes, want %d", count, producers*perProducer)
	}
}

func TestDoubleEnqueueIsFatal(t *testing.T) {
	var fatal *gcerr.Error
	old := gcerr.SetFatalHandler(func(err *gcerr.Error) { fatal = err })
	defer gcerr.SetFatalHandler(old)

	a := NewArena[int](8)
	q := NewQueue(a)
	h, _ := a.Alloc(1)
	q.Enqueue(h)
	gcerr.Guard("test", func() { q.Enqueue(h) })
	if fatal == nil || fatal.Kind != gcerr.Fatal {
		t.Fatalf("double enqueue did not raise a fatal error: %v", fatal)
	}

	fatal = nil
	gcerr.Guard("test", func() { a.Free(h) })
	if fatal == nil {
		t.Fatal("freeing a queued node did not raise a fatal error")
	}
}
