// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workers

import "gclab/heap"

// SectionSize is the number of objects in a gray queue section.
const SectionSize = 125

// A Section is a fixed-size block of gray objects. Sections are the unit
// in which gray objects move between queues.
type Section struct {
	objs [SectionSize]heap.ObjectID
	n    int
	next *Section
}

// Len returns the number of objects in s.
func (s *Section) Len() int {
	return s.n
}

// GrayQueue is a stack of gray objects stored as a list of sections.
// Only the first section may be partially full.
//
// A GrayQueue is not safe for concurrent use. Each worker's private
// queue is only touched by the goroutine running that worker.
type GrayQueue struct {
	first *Section
	free  *Section
	n     int
}

// Push adds obj to q.
func (q *GrayQueue) Push(obj heap.ObjectID) {
	if q.first == nil || q.first.n == SectionSize {
		s := q.free
		if s != nil {
			q.free = s.next
		} else {
			s = new(Section)
		}
		s.next = q.first
		q.first = s
	}
	q.first.objs[q.first.n] = obj
	q.first.n++
	q.n++
}

// Pop removes the most recently pushed object from q.
func (q *GrayQueue) Pop() (heap.ObjectID, bool) {
	s := q.first
	if s == nil {
		return heap.NoObject, false
	}
	s.n--
	obj := s.objs[s.n]
	q.n--
	if s.n == 0 {
		q.first = s.next
		s.next = q.free
		q.free = s
	}
	return obj, true
}

// Len returns the number of objects in q.
func (q *GrayQueue) Len() int {
	return q.n
}

// IsEmpty reports whether q holds no objects.
func (q *GrayQueue) IsEmpty() bool {
	return q.n == 0
}

// DequeueSection removes and returns a full section from q, or nil if q
// has none.
func (q *GrayQueue) DequeueSection() *Section {
	if q.first == nil {
		return nil
	}
	if q.first.n == SectionSize {
		s := q.first
		q.first = s.next
		s.next = nil
		q.n -= s.n
		return s
	}
	s := q.first.next
	if s == nil {
		return nil
	}
	q.first.next = s.next
	s.next = nil
	q.n -= s.n
	return s
}

// EnqueueSection adds the objects of s to q. s must not be used by the
// caller afterwards.
func (q *GrayQueue) EnqueueSection(s *Section) {
	if s.n == 0 {
		return
	}
	if q.first == nil || q.first.n == SectionSize {
		s.next = q.first
		q.first = s
		q.n += s.n
		return
	}
	// Keep the partial section first.
	s.next = q.first.next
	q.first.next = s
	if s.n != SectionSize {
		// Both are partial. Merge s into the first section.
		q.first.next = s.next
		s.next = nil
		for _, obj := range s.objs[:s.n] {
			q.Push(obj)
		}
		return
	}
	q.n += s.n
}
