// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pinning

import (
	"slices"

	"gclab/heap"
)

// Queue is the pin staging queue. Candidate addresses are staged while
// roots are scanned and then optimized into a sorted set before objects
// are pinned.
type Queue struct {
	addrs     []heap.VAddr
	optimized bool
}

// Stage adds a candidate pinned address.
func (q *Queue) Stage(addr heap.VAddr) {
	q.addrs = append(q.addrs, addr)
	q.optimized = false
}

// Optimize sorts the staged addresses and removes duplicates.
func (q *Queue) Optimize() {
	slices.Sort(q.addrs)
	q.addrs = slices.Compact(q.addrs)
	q.optimized = true
}

// Addresses returns the staged addresses. After Optimize they are sorted
// and unique.
func (q *Queue) Addresses() []heap.VAddr {
	return q.addrs
}

// Find returns the optimized addresses in r.
func (q *Queue) Find(r heap.Range) []heap.VAddr {
	if !q.optimized {
		panic("pinning: Find on unoptimized queue")
	}
	lo, _ := slices.BinarySearch(q.addrs, r.Start)
	hi, _ := slices.BinarySearch(q.addrs, r.End())
	return q.addrs[lo:hi]
}

// Len returns the number of staged addresses.
func (q *Queue) Len() int {
	return len(q.addrs)
}

// Reset empties the queue, keeping its storage.
func (q *Queue) Reset() {
	q.addrs = q.addrs[:0]
	q.optimized = false
}
