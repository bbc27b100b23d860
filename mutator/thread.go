// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutator

import (
	"errors"
	"fmt"
	"sync"

	"gclab/heap"
	"gclab/sampler"
)

// maxAllocMajors is the number of major collections an allocation
// runs before it reports the heap exhausted. The second one finds the
// space a concurrent sweep freed after the first.
const maxAllocMajors = 2

// Thread is a mutator thread.
//
// Its stack is a list of words that the collector scans conservatively:
// any word that points into an object pins that object. Its handles
// pin objects explicitly. The stack and handles are only touched by the
// goroutine running the thread, inside Do, and by the collector while
// the world is stopped.
type Thread struct {
	ID sampler.ThreadID

	w *World

	stack   []heap.VAddr
	handles []heap.VAddr // 0 marks a free handle
	inDo    bool

	// frames is the call stack reported to the stack sampler, which
	// walks it without stopping the world.
	framesMu sync.Mutex
	frames   []sampler.Frame
	exited   bool
}

// World returns the world t belongs to.
func (t *Thread) World() *World {
	return t.w
}

// Do runs fn as mutator code: the world cannot be stopped while fn runs,
// except from within Alloc. Do calls must not nest.
func (t *Thread) Do(fn func()) {
	if t.inDo {
		panic("mutator: nested Do")
	}
	t.w.mu.RLock()
	t.inDo = true
	defer func() {
		t.inDo = false
		t.w.mu.RUnlock()
	}()
	fn()
}

func (t *Thread) checkInDo(op string) {
	if !t.inDo {
		panic(fmt.Sprintf("mutator: %s outside Do", op))
	}
}

// Exit unregisters t. Its stack and handles stop being roots.
func (t *Thread) Exit() {
	t.w.threadsMu.Lock()
	delete(t.w.threads, t.ID)
	t.w.threadsMu.Unlock()
	t.framesMu.Lock()
	t.exited = true
	t.frames = nil
	t.framesMu.Unlock()
}

// Enter pushes a call frame for method.
func (t *Thread) Enter(method sampler.MethodID, name string) {
	t.framesMu.Lock()
	t.frames = append(t.frames, sampler.Frame{Method: method, Name: name})
	t.framesMu.Unlock()
}

// Leave pops the innermost call frame.
func (t *Thread) Leave() {
	t.framesMu.Lock()
	t.frames = t.frames[:len(t.frames)-1]
	t.framesMu.Unlock()
}

// Push pushes word onto the stack and returns its slot. word need not
// be a pointer.
func (t *Thread) Push(word heap.VAddr) int {
	t.checkInDo("Push")
	t.stack = append(t.stack, word)
	return len(t.stack) - 1
}

// Slot returns stack slot i.
func (t *Thread) Slot(i int) heap.VAddr {
	return t.stack[i]
}

// SetSlot stores word in stack slot i.
func (t *Thread) SetSlot(i int, word heap.VAddr) {
	t.checkInDo("SetSlot")
	t.stack[i] = word
}

// Depth returns the number of stack slots.
func (t *Thread) Depth() int {
	return len(t.stack)
}

// PopTo truncates the stack to depth slots.
func (t *Thread) PopTo(depth int) {
	t.checkInDo("PopTo")
	clear(t.stack[depth:])
	t.stack = t.stack[:depth]
}

// Stack returns t's stack words. The world must be stopped.
func (t *Thread) Stack() []heap.VAddr {
	return t.stack
}

// Pin pins the object at addr until Unpin and returns a handle for it.
func (t *Thread) Pin(addr heap.VAddr) int {
	t.checkInDo("Pin")
	for i, h := range t.handles {
		if h == 0 {
			t.handles[i] = addr
			return i
		}
	}
	t.handles = append(t.handles, addr)
	return len(t.handles) - 1
}

// Unpin releases handle h.
func (t *Thread) Unpin(h int) {
	t.checkInDo("Unpin")
	t.handles[h] = 0
}

// Handles returns t's handles. Free handles are 0. The world must be
// stopped.
func (t *Thread) Handles() []heap.VAddr {
	return t.handles
}

// Alloc allocates an object and returns its address. If the heap is
// full it runs a nursery collection, then major collections, and
// retries. Collections skipped because another thread collected first
// do not count. Alloc must be called inside Do.
//
// The new object is not rooted. The caller must store its address in a
// root or in a reachable object before the next Alloc.
func (t *Thread) Alloc(class string, nRefs int, extra heap.Bytes) (heap.VAddr, error) {
	t.checkInDo("Alloc")
	h := t.w.Heap
	id, err := h.Alloc(class, nRefs, extra)
	if err == nil {
		return h.AddrOf(id), nil
	}
	major, majors := false, 0
	for {
		if !errors.Is(err, heap.ErrNurseryFull) && !errors.Is(err, heap.ErrHeapExhausted) {
			return 0, err
		}
		major = major || errors.Is(err, heap.ErrHeapExhausted)
		var addr heap.VAddr
		var ran bool
		addr, ran, err = t.collectAndAlloc(major, class, nRefs, extra, err)
		if err == nil {
			return addr, nil
		}
		if !ran {
			continue
		}
		if major {
			if majors++; majors == maxAllocMajors {
				return 0, err
			}
		}
		major = true
	}
}

// collectAndAlloc gives up the world lock for the duration of a
// collection and retries the allocation before any other mutator runs.
// Until t holds the world lock again the new object is rooted by a stack
// slot. ran reports whether a collection happened; if not, err is prev.
func (t *Thread) collectAndAlloc(major bool, class string, nRefs int, extra heap.Bytes, prev error) (addr heap.VAddr, ran bool, err error) {
	h := t.w.Heap
	depth := len(t.stack)
	slot := -1
	allocErr := prev
	retry := func() {
		ran = true
		id, err := h.Alloc(class, nRefs, extra)
		if err != nil {
			allocErr = err
			return
		}
		slot = len(t.stack)
		t.stack = append(t.stack, h.AddrOf(id))
	}

	epoch := t.w.epoch.Load()
	t.w.mu.RUnlock()
	collected, err := t.w.collect(major, epoch, retry)
	t.w.mu.RLock()

	if slot >= 0 {
		addr = t.stack[slot]
		t.PopTo(depth)
	}
	if err != nil && !errors.Is(err, heap.ErrHeapExhausted) {
		return 0, ran || collected, err
	}
	if slot >= 0 {
		return addr, true, nil
	}
	if collected && !ran {
		// The collector never started the world again through
		// StartTheWorld.
		id, err := h.Alloc(class, nRefs, extra)
		if err == nil {
			return h.AddrOf(id), true, nil
		}
		allocErr = err
	}
	return 0, ran || collected, allocErr
}

func (t *Thread) object(addr heap.VAddr) (heap.ObjectID, error) {
	id := t.w.Heap.ObjectAt(addr)
	if id == heap.NoObject {
		return id, fmt.Errorf("no object at %s", addr)
	}
	return id, nil
}

// Load returns reference slot slot of the object at obj.
func (t *Thread) Load(obj heap.VAddr, slot int) (heap.VAddr, error) {
	t.checkInDo("Load")
	id, err := t.object(obj)
	if err != nil {
		return 0, err
	}
	return t.w.Heap.Ref(id, slot), nil
}

// Store stores target in reference slot slot of the object at obj,
// through the write barrier.
func (t *Thread) Store(obj heap.VAddr, slot int, target heap.VAddr) error {
	t.checkInDo("Store")
	id, err := t.object(obj)
	if err != nil {
		return err
	}
	t.w.Heap.SetRef(id, slot, target)
	return nil
}
