// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOnce(t *testing.T) {
	var calls atomic.Int32
	c := Cache[int, int]{New: func(k int) int {
		calls.Add(1)
		return k * k
	}}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range 100 {
				if got := c.Get(k); got != k*k {
					t.Errorf("Get(%d) = %d", k, got)
				}
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 100 || c.Len() != 100 {
		t.Fatalf("New called %d times for %d keys", calls.Load(), c.Len())
	}
	c.Reset()
	c.Get(1)
	if calls.Load() != 101 {
		t.Fatalf("Reset did not drop values")
	}
}
