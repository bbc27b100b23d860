// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layoutstats collects histograms of object reference layouts.
//
// While an object is scanned, each reference slot that holds a pointer
// sets a bit in a small bitmap. Objects with a pointer beyond the first
// BitmapBits slots are counted in a single "large" bucket. The result
// shows which layouts dominate the heap and so which scanning fast paths
// would pay off.
package layoutstats

import (
	"fmt"
	"io"
	"math/bits"
	"strings"
	"sync"

	"github.com/aclements/go-moremath/stats"
)

const (
	// BitmapBits is the number of reference slots a layout bitmap
	// covers.
	BitmapBits = 16

	// BitmapSize is the number of distinct small layouts.
	BitmapSize = 1 << BitmapBits

	// BitmapLarge is the bucket for objects with a reference slot at
	// index BitmapBits or beyond.
	BitmapLarge = BitmapSize
)

// Bitmap is the layout of one object. Bit i is set if reference slot i
// holds a pointer. The value BitmapLarge means the object is large.
type Bitmap uint32

// String returns the bitmap as a row of 'x' and '.' characters, slot 0
// first.
func (b Bitmap) String() string {
	if b == BitmapLarge {
		return "large"
	}
	var sb strings.Builder
	for i := range BitmapBits {
		if b&(1<<i) != 0 {
			sb.WriteByte('x')
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

// Builder accumulates the layout of the object being scanned.
type Builder struct {
	bitmap Bitmap
}

// MarkSlot records that reference slot i holds a pointer.
func (b *Builder) MarkSlot(i int) {
	if i >= BitmapBits {
		b.bitmap = BitmapLarge
	} else if b.bitmap != BitmapLarge {
		b.bitmap |= 1 << i
	}
}

// Bitmap returns the accumulated layout.
func (b *Builder) Bitmap() Bitmap {
	return b.bitmap
}

// Counter counts object layouts. It is not safe for concurrent use;
// each scanner owns one and merges it into a Stats when it is done.
type Counter struct {
	counts [BitmapSize + 1]uint64
	total  uint64
}

// Commit counts the object accumulated in b and resets b.
func (c *Counter) Commit(b *Builder) {
	c.counts[b.bitmap]++
	c.total++
	b.bitmap = 0
}

// Total returns the number of objects committed.
func (c *Counter) Total() uint64 {
	return c.total
}

// Stats is a concurrency-safe set of layout counts.
type Stats struct {
	mu sync.Mutex
	c  Counter
}

// Merge adds c's counts to s and zeroes c.
func (s *Stats) Merge(c *Counter) {
	if c.total == 0 {
		return
	}
	s.mu.Lock()
	for i, n := range c.counts {
		if n != 0 {
			s.c.counts[i] += n
			c.counts[i] = 0
		}
	}
	s.c.total += c.total
	c.total = 0
	s.mu.Unlock()
}

// Count returns the number of objects with layout b.
func (s *Stats) Count(b Bitmap) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.counts[b]
}

// Reset zeroes all counts.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.c = Counter{}
	s.mu.Unlock()
}

// Print writes every layout with a non-zero count, followed by the large
// bucket.
func (s *Stats) Print(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "\t\tobject layout statistics\n")
	for i := range BitmapSize {
		if n := s.c.counts[i]; n != 0 {
			fmt.Fprintf(w, "%s - %d\n", Bitmap(i), n)
		}
	}
	fmt.Fprintf(w, "large - %d\n", s.c.counts[BitmapLarge])
}

// Summary describes the distribution of the number of pointer slots in
// objects with small layouts.
type Summary struct {
	Objects uint64 // All objects, including large ones
	Large   uint64

	MeanRefs float64
	P50Refs  float64
	P99Refs  float64
	MaxRefs  float64

	// ByRefs[n] is the number of small objects with n pointer slots.
	ByRefs [BitmapBits + 1]uint64
}

// Summary computes a Summary of s.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Objects: s.c.total, Large: s.c.counts[BitmapLarge]}
	for i := range BitmapSize {
		if n := s.c.counts[i]; n != 0 {
			sum.ByRefs[bits.OnesCount32(uint32(i))] += n
		}
	}
	sample := stats.Sample{Sorted: true}
	for refs, n := range sum.ByRefs {
		if n != 0 {
			sample.Xs = append(sample.Xs, float64(refs))
			sample.Weights = append(sample.Weights, float64(n))
		}
	}
	if len(sample.Xs) == 0 {
		return sum
	}
	sum.MeanRefs = sample.Mean()
	sum.P50Refs = sample.Quantile(0.5)
	sum.P99Refs = sample.Quantile(0.99)
	_, sum.MaxRefs = sample.Bounds()
	return sum
}

func (s Summary) String() string {
	return fmt.Sprintf("%d objects (%d large), pointer slots mean %.2f p50 %g p99 %g max %g",
		s.Objects, s.Large, s.MeanRefs, s.P50Refs, s.P99Refs, s.MaxRefs)
}
