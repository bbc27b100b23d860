// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mutator

import (
	"fmt"
	"math/rand/v2"

	"gclab/heap"
	"gclab/sampler"
)

// Methods of the synthetic workload, as reported to the stack sampler.
const (
	MethodRun sampler.MethodID = 1 + iota
	MethodBuildList
	MethodBuildTree
	MethodChurn
	MethodMakeCycle
	MethodPinBuffer
	MethodFillLarge
)

// MethodNames maps each workload method to its name.
var MethodNames = map[sampler.MethodID]string{
	MethodRun:       "Workload.Run",
	MethodBuildList: "Workload.BuildList",
	MethodBuildTree: "Workload.BuildTree",
	MethodChurn:     "Workload.Churn",
	MethodMakeCycle: "Workload.MakeCycle",
	MethodPinBuffer: "Workload.PinBuffer",
	MethodFillLarge: "Workload.FillLarge",
}

// Workload is a synthetic allocation workload. It builds linked lists,
// trees and cycles that it retains for a while in static roots, churns
// short-lived garbage, pins buffers through handles and static data, and
// stores young objects into large old objects.
type Workload struct {
	Statics   int // Static root slots each thread rotates retained data through
	ListLen   int
	TreeDepth int
	Churn     int // Garbage objects per churn step
	MaxPinned int // Pinned buffers each thread holds at once
	LargeRefs int // Reference slots in each large object
}

// DefaultWorkload returns a workload that exercises every kind of root
// with a modest heap.
func DefaultWorkload() Workload {
	return Workload{
		Statics:   16,
		ListLen:   64,
		TreeDepth: 6,
		Churn:     256,
		MaxPinned: 4,
		LargeRefs: 1100,
	}
}

type workState struct {
	wl      Workload
	t       *Thread
	rng     *rand.Rand
	statics []int
	data    int // Static data word owned by the thread
	pins    []int
	err     error
}

// Run performs ops randomly chosen steps of wl on t.
func (wl Workload) Run(t *Thread, rng *rand.Rand, ops int) error {
	s := &workState{wl: wl, t: t, rng: rng}
	w := t.World()
	for range max(wl.Statics, 1) {
		s.statics = append(s.statics, w.AddStatic(0))
	}
	s.data = w.AddStaticData(0)

	t.Enter(MethodRun, MethodNames[MethodRun])
	defer t.Leave()
	for i := 0; i < ops && s.err == nil; i++ {
		t.Do(s.step)
	}
	if s.err == nil {
		// Drop this thread's handles so its buffers can die.
		t.Do(func() {
			for _, h := range s.pins {
				t.Unpin(h)
			}
		})
	}
	return s.err
}

func (s *workState) step() {
	var err error
	switch s.rng.IntN(8) {
	case 0, 1:
		err = s.retain(s.buildList)
	case 2:
		err = s.retain(func() (heap.VAddr, error) { return s.buildTree(s.wl.TreeDepth) })
	case 3, 4:
		err = s.churn()
	case 5:
		err = s.retain(s.makeCycle)
	case 6:
		err = s.pinBuffer()
	case 7:
		err = s.retain(s.fillLarge)
	}
	if err != nil {
		s.err = err
	}
}

// retain stores the result of build in a random static slot, releasing
// whatever that slot held before.
func (s *workState) retain(build func() (heap.VAddr, error)) error {
	addr, err := build()
	if err != nil {
		return err
	}
	s.t.World().SetStatic(s.statics[s.rng.IntN(len(s.statics))], addr)
	return nil
}

func (s *workState) enter(m sampler.MethodID) {
	s.t.Enter(m, MethodNames[m])
}

func (s *workState) buildList() (heap.VAddr, error) {
	s.enter(MethodBuildList)
	defer s.t.Leave()
	base := s.t.Depth()
	defer s.t.PopTo(base)

	// The head is kept on the stack, which pins it. Its interior is
	// referenced too, as an optimizing compiler would do.
	headSlot := s.t.Push(0)
	innerSlot := s.t.Push(0)
	var head heap.VAddr
	for range s.wl.ListLen {
		node, err := s.t.Alloc("List.Node", 1, 8)
		if err != nil {
			return 0, fmt.Errorf("building list: %w", err)
		}
		if err := s.t.Store(node, 0, head); err != nil {
			return 0, err
		}
		head = node
		s.t.SetSlot(headSlot, head)
		s.t.SetSlot(innerSlot, head.Plus(heap.HeaderBytes))
	}
	return head, nil
}

func (s *workState) buildTree(depth int) (heap.VAddr, error) {
	if depth == 0 {
		return 0, nil
	}
	s.enter(MethodBuildTree)
	defer s.t.Leave()
	base := s.t.Depth()
	defer s.t.PopTo(base)

	node, err := s.t.Alloc("Tree.Node", 2, 0)
	if err != nil {
		return 0, fmt.Errorf("building tree: %w", err)
	}
	s.t.Push(node)
	for i := range 2 {
		child, err := s.buildTree(depth - 1)
		if err != nil {
			return 0, err
		}
		if err := s.t.Store(node, i, child); err != nil {
			return 0, err
		}
	}
	return node, nil
}

func (s *workState) churn() error {
	s.enter(MethodChurn)
	defer s.t.Leave()
	for range s.wl.Churn {
		extra := heap.Bytes(s.rng.IntN(128))
		if _, err := s.t.Alloc("Garbage", 0, extra); err != nil {
			return fmt.Errorf("churning: %w", err)
		}
	}
	// A word that happens to look like nothing in particular.
	base := s.t.Depth()
	s.t.Push(heap.VAddr(s.rng.Uint64()))
	s.t.PopTo(base)
	return nil
}

func (s *workState) makeCycle() (heap.VAddr, error) {
	s.enter(MethodMakeCycle)
	defer s.t.Leave()
	base := s.t.Depth()
	defer s.t.PopTo(base)

	classes := []string{"Cycle.A", "Cycle.B", "Cycle.C"}
	addrs := make([]heap.VAddr, len(classes))
	for i, class := range classes {
		a, err := s.t.Alloc(class, 1, 0)
		if err != nil {
			return 0, fmt.Errorf("making cycle: %w", err)
		}
		addrs[i] = a
		s.t.Push(a)
	}
	for i, a := range addrs {
		if err := s.t.Store(a, 0, addrs[(i+1)%len(addrs)]); err != nil {
			return 0, err
		}
	}
	// Occasionally the cycle also leaks into static data, which pins it.
	if s.rng.IntN(4) == 0 {
		s.t.World().SetStaticData(s.data, addrs[0])
	}
	return addrs[0], nil
}

func (s *workState) pinBuffer() error {
	s.enter(MethodPinBuffer)
	defer s.t.Leave()
	buf, err := s.t.Alloc("Pinned.Buffer", 0, 256)
	if err != nil {
		return fmt.Errorf("pinning buffer: %w", err)
	}
	s.pins = append(s.pins, s.t.Pin(buf))
	if len(s.pins) > s.wl.MaxPinned {
		s.t.Unpin(s.pins[0])
		s.pins = s.pins[1:]
	}
	return nil
}

func (s *workState) fillLarge() (heap.VAddr, error) {
	s.enter(MethodFillLarge)
	defer s.t.Leave()
	base := s.t.Depth()
	defer s.t.PopTo(base)

	large, err := s.t.Alloc("Large.Array", s.wl.LargeRefs, 0)
	if err != nil {
		return 0, fmt.Errorf("filling large object: %w", err)
	}
	s.t.Push(large)
	for i := range min(8, s.wl.LargeRefs) {
		elem, err := s.t.Alloc("Large.Elem", 0, 8)
		if err != nil {
			return 0, fmt.Errorf("filling large object: %w", err)
		}
		if err := s.t.Store(large, i, elem); err != nil {
			return 0, err
		}
	}
	return large, nil
}
