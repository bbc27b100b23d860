// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bitmap provides dense bit sets keyed by small integers.
package bitmap

import (
	"iter"
	"math/bits"
	"sync/atomic"
)

// Set is a fixed-size, non-concurrent bit set.
type Set[K ~uint32 | ~uint64] struct {
	bits []uint64
}

func NewSet[K ~uint32 | ~uint64](nBits K) Set[K] {
	return Set[K]{make([]uint64, (uint64(nBits)+63)/64)}
}

func (b Set[K]) Has(i K) bool {
	return uint64(i)/64 < uint64(len(b.bits)) && (b.bits[i/64]&(1<<(i%64))) != 0
}

func (b Set[K]) Add(i K) {
	b.bits[i/64] |= 1 << (i % 64)
}

func (b Set[K]) Remove(i K) {
	b.bits[i/64] &^= 1 << (i % 64)
}

func (b Set[K]) Len() int {
	var sum int
	for _, w := range b.bits {
		sum += bits.OnesCount64(w)
	}
	return sum
}

// Clear removes all elements from b.
func (b Set[K]) Clear() {
	clear(b.bits)
}

func (b Set[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for i, val := range b.bits {
			for val != 0 {
				bitI := bits.TrailingZeros64(val)
				if !yield(K(i*64 + bitI)) {
					return
				}
				val &^= 1 << bitI
			}
		}
	}
}

// AtomicSet is a fixed-size bit set that supports concurrent TryAdd.
// It is used for mark bits: exactly one caller wins the race to add a
// given element.
type AtomicSet[K ~uint32 | ~uint64] struct {
	bits []atomic.Uint64
}

func NewAtomicSet[K ~uint32 | ~uint64](nBits K) *AtomicSet[K] {
	return &AtomicSet[K]{make([]atomic.Uint64, (uint64(nBits)+63)/64)}
}

// Cap returns the number of bits b can hold.
func (b *AtomicSet[K]) Cap() K {
	return K(len(b.bits) * 64)
}

func (b *AtomicSet[K]) Has(i K) bool {
	if uint64(i)/64 >= uint64(len(b.bits)) {
		return false
	}
	return b.bits[i/64].Load()&(1<<(i%64)) != 0
}

// TryAdd sets bit i and reports whether this call changed it from 0 to
// 1.
func (b *AtomicSet[K]) TryAdd(i K) bool {
	w := &b.bits[i/64]
	mask := uint64(1) << (i % 64)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

func (b *AtomicSet[K]) Remove(i K) {
	b.bits[i/64].And(^(uint64(1) << (i % 64)))
}

func (b *AtomicSet[K]) Len() int {
	var sum int
	for i := range b.bits {
		sum += bits.OnesCount64(b.bits[i].Load())
	}
	return sum
}

// Clear removes all elements. It must not race with TryAdd.
func (b *AtomicSet[K]) Clear() {
	for i := range b.bits {
		b.bits[i].Store(0)
	}
}
