// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache provides caching structures.
package cache

import "sync"

// Cache is a concurrent-safe map that is automatically populated.
// Values are never evicted.
type Cache[K comparable, V any] struct {
	// New is a function that returns the value of key k when k
	// isn't already in the map. It is called at most once per key,
	// even if Get is called concurrently.
	New func(k K) V

	dataLock sync.Mutex
	data     map[K]*cacheVal[V]
}

type cacheVal[V any] struct {
	fill sync.Once
	val  V
}

// Get returns the value for key, creating it by calling c.New if
// necessary.
func (c *Cache[K, V]) Get(key K) V {
	c.dataLock.Lock()
	if c.data == nil {
		c.data = make(map[K]*cacheVal[V])
	}
	cval, ok := c.data[key]
	if !ok {
		cval = new(cacheVal[V])
		c.data[key] = cval
	}
	c.dataLock.Unlock()

	cval.fill.Do(func() {
		cval.val = c.New(key)
	})
	return cval.val
}

// Len returns the number of keys in the cache.
func (c *Cache[K, V]) Len() int {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	return len(c.data)
}

// Reset drops every cached value.
func (c *Cache[K, V]) Reset() {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	c.data = nil
}
