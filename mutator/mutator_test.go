// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutator

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gclab/heap"
	"gclab/sampler"
)

// dropNursery is a collector that frees the whole nursery. It is only
// correct for mutators that retain nothing.
type dropNursery struct {
	w     *World
	minor int
	major int
}

func (c *dropNursery) Collect(major bool) error {
	c.w.StopTheWorld()
	defer c.w.StartTheWorld()
	if major {
		c.major++
	} else {
		c.minor++
	}
	h := c.w.Heap
	var ids []heap.ObjectID
	for id := range h.Objects(heap.Nursery) {
		ids = append(ids, id)
	}
	for _, id := range ids {
		h.Free(id)
	}
	h.ResetMarks()
	h.ResetNursery()
	return nil
}

func TestThreads(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	t1 := w.NewThread()
	t2 := w.NewThread()
	t3 := w.NewThread()
	t2.Exit()
	got := w.Threads()
	if len(got) != 2 || got[0] != t1.ID || got[1] != t3.ID {
		t.Errorf("Threads() = %v, want [%d %d]", got, t1.ID, t3.ID)
	}
	if err := w.WalkStack(t2.ID, func(sampler.Frame) bool { return true }); !errors.Is(err, ErrThreadExited) {
		t.Errorf("walking exited thread: got %v, want ErrThreadExited", err)
	}

	var visited []sampler.ThreadID
	w.ForEachThread(func(th *Thread) { visited = append(visited, th.ID) })
	if len(visited) != 2 || visited[0] != t1.ID {
		t.Errorf("ForEachThread visited %v", visited)
	}
}

func TestWalkStack(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	th := w.NewThread()
	th.Enter(MethodRun, "Run")
	th.Enter(MethodBuildList, "BuildList")
	th.Enter(MethodChurn, "Churn")

	var names []string
	err := w.WalkStack(th.ID, func(f sampler.Frame) bool {
		names = append(names, f.Name)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.Join(names, " "), "Churn BuildList Run"; got != want {
		t.Errorf("frames %q, want %q", got, want)
	}

	names = names[:0]
	w.WalkStack(th.ID, func(f sampler.Frame) bool {
		names = append(names, f.Name)
		return false
	})
	if len(names) != 1 {
		t.Errorf("walk did not stop: %v", names)
	}

	th.Leave()
	names = names[:0]
	w.WalkStack(th.ID, func(f sampler.Frame) bool {
		names = append(names, f.Name)
		return true
	})
	if names[0] != "BuildList" {
		t.Errorf("after Leave, innermost frame is %s", names[0])
	}
}

func TestStopTheWorld(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	th := w.NewThread()

	w.StopTheWorld()
	if w.Epoch() != 1 {
		t.Errorf("epoch %d after one pause", w.Epoch())
	}
	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		th.Do(func() { ran.Store(true) })
	}()
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("mutator ran while the world was stopped")
	}
	w.StartTheWorld()
	wg.Wait()
	if !ran.Load() {
		t.Fatal("mutator did not run after the world started")
	}
}

func TestAllocCollects(t *testing.T) {
	h := heap.New(heap.Config{NurseryBytes: 1 * heap.KiB})
	w := NewWorld(h)
	c := &dropNursery{w: w}
	w.SetCollector(c)
	th := w.NewThread()

	var err error
	th.Do(func() {
		for range 200 {
			var addr heap.VAddr
			if addr, err = th.Alloc("Garbage", 2, 16); err != nil {
				return
			}
			if !h.NurseryRange().Contains(addr) {
				t.Errorf("small object at %s, outside the nursery", addr)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.minor == 0 {
		t.Error("nursery never collected")
	}
	if c.major != 0 {
		t.Errorf("%d major collections, want 0", c.major)
	}
	if w.Epoch() != uint64(c.minor) {
		t.Errorf("epoch %d, want %d", w.Epoch(), c.minor)
	}
}

// refill is a collector that frees the nursery and, once the world is
// running again, fills it back up as a competing mutator would.
type refill struct {
	dropNursery
}

func (c *refill) Collect(major bool) error {
	if err := c.dropNursery.Collect(major); err != nil {
		return err
	}
	for {
		if _, err := c.w.Heap.Alloc("Filler", 0, 0); err != nil {
			return nil
		}
	}
}

func TestAllocRetriesBeforeOthersRun(t *testing.T) {
	h := heap.New(heap.Config{NurseryBytes: 1 * heap.KiB})
	w := NewWorld(h)
	c := &refill{dropNursery{w: w}}
	w.SetCollector(c)
	th := w.NewThread()
	var err error
	th.Do(func() {
		for range 100 {
			var addr heap.VAddr
			if addr, err = th.Alloc("Garbage", 2, 16); err != nil {
				return
			}
			if id := h.ObjectAt(addr); id == heap.NoObject || h.Object(id).Class != "Garbage" {
				t.Errorf("Alloc returned %s, which does not hold the new object", addr)
			}
		}
		if th.Depth() != 0 {
			t.Errorf("stack depth %d after Alloc, want 0", th.Depth())
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.major != 0 {
		t.Errorf("%d major collections, want 0", c.major)
	}
}

// unpaused frees the nursery without stopping the world.
type unpaused struct {
	w *World
	n int
}

func (c *unpaused) Collect(major bool) error {
	c.n++
	h := c.w.Heap
	var ids []heap.ObjectID
	for id := range h.Objects(heap.Nursery) {
		ids = append(ids, id)
	}
	for _, id := range ids {
		h.Free(id)
	}
	h.ResetNursery()
	return nil
}

func TestAllocCollectorWithoutPause(t *testing.T) {
	h := heap.New(heap.Config{NurseryBytes: 1 * heap.KiB})
	w := NewWorld(h)
	c := &unpaused{w: w}
	w.SetCollector(c)
	th := w.NewThread()
	var err error
	th.Do(func() {
		for range 100 {
			if _, err = th.Alloc("Garbage", 2, 16); err != nil {
				return
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.n == 0 {
		t.Error("nursery never collected")
	}
}

func TestAllocConcurrent(t *testing.T) {
	h := heap.New(heap.Config{NurseryBytes: 2 * heap.KiB})
	w := NewWorld(h)
	c := &dropNursery{w: w}
	w.SetCollector(c)

	const threads, allocs = 4, 500
	var wg sync.WaitGroup
	errs := make([]error, threads)
	for i := range threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := w.NewThread()
			defer th.Exit()
			for range allocs {
				th.Do(func() {
					if errs[i] == nil {
						_, errs[i] = th.Alloc("Garbage", 4, 32)
					}
				})
			}
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("thread %d: %v", i, err)
		}
	}
	if c.major != 0 {
		t.Errorf("%d major collections for a nursery that is always emptied", c.major)
	}
}

func TestAllocNoCollector(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{NurseryBytes: 64}))
	th := w.NewThread()
	var err error
	th.Do(func() {
		for range 10 {
			if _, err = th.Alloc("Garbage", 0, 0); err != nil {
				return
			}
		}
	})
	if err == nil || !strings.Contains(err.Error(), "no collector") {
		t.Errorf("got %v, want no collector error", err)
	}
}

func TestAllocOutsideDo(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	th := w.NewThread()
	defer func() {
		if recover() == nil {
			t.Error("Alloc outside Do did not panic")
		}
	}()
	th.Alloc("Garbage", 0, 0)
}

func TestLoadStore(t *testing.T) {
	h := heap.New(heap.Config{})
	w := NewWorld(h)
	th := w.NewThread()
	th.Do(func() {
		a, err := th.Alloc("A", 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		b, err := th.Alloc("B", 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := th.Store(a, 0, b); err != nil {
			t.Fatal(err)
		}
		if got, err := th.Load(a, 0); err != nil || got != b {
			t.Errorf("Load = %s, %v; want %s", got, err, b)
		}
		if err := th.Store(a.Plus(8), 0, b); err == nil {
			t.Error("Store to a non-object succeeded")
		}
	})
}

func TestHandles(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	th := w.NewThread()
	th.Do(func() {
		h0 := th.Pin(0x1000)
		h1 := th.Pin(0x2000)
		th.Unpin(h0)
		if h2 := th.Pin(0x3000); h2 != h0 {
			t.Errorf("freed handle %d not reused, got %d", h0, h2)
		}
		if hs := th.Handles(); len(hs) != 2 || hs[h1] != 0x2000 {
			t.Errorf("handles %v", hs)
		}

		base := th.Depth()
		th.Push(1)
		s := th.Push(2)
		th.SetSlot(s, 3)
		if th.Slot(s) != 3 || th.Depth() != base+2 {
			t.Errorf("stack %v", th.Stack())
		}
		th.PopTo(base)
		if th.Depth() != base {
			t.Errorf("depth %d after PopTo(%d)", th.Depth(), base)
		}
	})
}

func TestStatics(t *testing.T) {
	w := NewWorld(heap.New(heap.Config{}))
	i := w.AddStatic(0x10)
	j := w.AddStatic(0x20)
	w.SetStatic(i, 0x30)
	w.UpdateStatics(func(s []heap.VAddr) {
		for k := range s {
			s[k] += 1
		}
	})
	if w.Static(i) != 0x31 || w.Static(j) != 0x21 {
		t.Errorf("statics %s %s", w.Static(i), w.Static(j))
	}

	d := w.AddStaticData(0x40)
	w.SetStaticData(d, 0x50)
	data := w.StaticData()
	data[d] = 0
	if w.StaticData()[d] != 0x50 {
		t.Error("StaticData did not return a copy")
	}
}
