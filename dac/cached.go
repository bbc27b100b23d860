// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"sync/atomic"

	"gclab/cache"
)

// PageSize is the unit of CachedTarget reads.
const PageSize = 4096

type page struct {
	data []byte
	err  error
}

// CachedTarget caches a target's memory a page at a time. The target
// must not change while cached; a suspended process or a dump never
// does.
type CachedTarget struct {
	t      Target
	pages  cache.Cache[TAddr, page]
	misses atomic.Int64
}

// NewCachedTarget returns a cache in front of t.
func NewCachedTarget(t Target) *CachedTarget {
	c := &CachedTarget{t: t}
	c.pages.New = func(base TAddr) page {
		c.misses.Add(1)
		p := page{data: make([]byte, PageSize)}
		p.err = t.ReadMemory(base, p.data)
		return p
	}
	return c
}

// ReadMemory implements Target. Pages the target cannot read whole,
// such as the last page of a region, are read directly each time.
func (c *CachedTarget) ReadMemory(addr TAddr, buf []byte) error {
	for len(buf) > 0 {
		base := addr &^ (PageSize - 1)
		p := c.pages.Get(base)
		if p.err != nil {
			return c.t.ReadMemory(addr, buf)
		}
		n := copy(buf, p.data[addr-base:])
		addr += TAddr(n)
		buf = buf[n:]
	}
	return nil
}

// Misses returns the number of pages read from the underlying target.
func (c *CachedTarget) Misses() int64 {
	return c.misses.Load()
}
