// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"golang.org/x/net/nettest"

	"gclab/gcerr"
)

func startServer(t *testing.T, target Target) (*Server, *Remote) {
	t.Helper()
	if !nettest.TestableNetwork("unix") {
		t.Skip("unix sockets not supported")
	}
	l, err := nettest.NewLocalListener("unix")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(target, l)
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	t.Cleanup(func() {
		s.Shutdown()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	r, err := Dial(l.Addr().Network(), l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return s, r
}

func TestRemoteWalk(t *testing.T) {
	img := testImage(t, true)
	_, r := startServer(t, img)

	w, err := NewWalker(NewCachedTarget(r))
	if err != nil {
		t.Fatal(err)
	}
	g, err := w.Graph()
	if err != nil {
		t.Fatal(err)
	}
	nodes, _ := Cycles(g)
	if g.NumNodes() != 5 || len(nodes) != 4 {
		t.Fatalf("remote graph has %d nodes, %d in cycles", g.NumNodes(), len(nodes))
	}

	// Large reads are split.
	big := make([]byte, MaxRemoteRead+100)
	for i := range big {
		big[i] = byte(i)
	}
	img2 := NewImage()
	if err := img2.Map(0x10_0000_0000, big); err != nil {
		t.Fatal(err)
	}
	_, r2 := startServer(t, img2)
	got := make([]byte, len(big))
	if err := r2.ReadMemory(0x10_0000_0000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("large read differs")
	}
}

func TestRemoteErrors(t *testing.T) {
	s, r := startServer(t, testImage(t, false))

	var buf [8]byte
	err := r.ReadMemory(0xdead0000, buf[:])
	if !errors.Is(err, ErrUnmapped) || !errors.Is(err, gcerr.ErrExternal) {
		t.Fatalf("unmapped read: %v", err)
	}
	// The connection survives a failed read.
	if err := r.ReadMemory(GlobalsAddr, buf[:]); err != nil {
		t.Fatal(err)
	}

	s.Shutdown()
	if err := r.ReadMemory(GlobalsAddr, buf[:]); !errors.Is(err, gcerr.ErrExternal) {
		t.Fatalf("read after shutdown: %v", err)
	}
}

func TestRemoteConcurrent(t *testing.T) {
	img := testImage(t, false)
	_, r := startServer(t, img)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := ReadGlobals(r); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

type countingTarget struct {
	Target
	mu    sync.Mutex
	reads int
}

func (c *countingTarget) ReadMemory(addr TAddr, buf []byte) error {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Target.ReadMemory(addr, buf)
}

func TestCachedTarget(t *testing.T) {
	img := NewImage()
	data := make([]byte, 3*PageSize+16)
	for i := range data {
		data[i] = byte(i * 7)
	}
	const base TAddr = 0x40000
	if err := img.Map(base, data); err != nil {
		t.Fatal(err)
	}
	ct := &countingTarget{Target: img}
	c := NewCachedTarget(ct)

	for _, tc := range []struct {
		off, n int
	}{
		{0, 8},
		{PageSize - 4, 8},               // straddles a page boundary
		{10, 2 * PageSize},              // spans three pages
		{3 * PageSize, 16},              // the partial last page
		{3*PageSize + 8, 8},             // again, uncached
		{PageSize + 100, PageSize},      // cached
		{2*PageSize - 8, PageSize + 24}, // into the partial page
	} {
		got := make([]byte, tc.n)
		if err := c.ReadMemory(base+TAddr(tc.off), got); err != nil {
			t.Fatalf("read %d at +%#x: %v", tc.n, tc.off, err)
		}
		if !bytes.Equal(got, data[tc.off:tc.off+tc.n]) {
			t.Fatalf("read %d at +%#x: wrong data", tc.n, tc.off)
		}
	}
	if c.Misses() != 4 {
		t.Fatalf("%d page misses, want 4", c.Misses())
	}

	var buf [8]byte
	if err := c.ReadMemory(0x90000, buf[:]); !errors.Is(err, ErrUnmapped) {
		t.Fatalf("unmapped cached read: %v", err)
	}
}
