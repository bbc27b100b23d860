// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"errors"
	"testing"
)

func TestAllocNursery(t *testing.T) {
	h := New(Config{NurseryBytes: 1 * KiB})
	a, err := h.Alloc("A", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Alloc("B", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	oa, ob := h.Object(a), h.Object(b)
	if oa.Addr != NurseryStart || oa.Gen != Nursery {
		t.Fatalf("first object at %s gen %s", oa.Addr, oa.Gen)
	}
	if want := ObjectBytes(2, 0); oa.Size != want {
		t.Fatalf("size %d, want %d", oa.Size, want)
	}
	if ob.Addr != oa.Range().End() {
		t.Fatalf("second object at %s, want %s", ob.Addr, oa.Range().End())
	}
	if ob.Size%AllocAlign != 0 {
		t.Fatalf("size %d not aligned", ob.Size)
	}

	// Fill the nursery.
	for {
		_, err := h.Alloc("C", 4, 0)
		if errors.Is(err, ErrNurseryFull) {
			break
		} else if err != nil {
			t.Fatal(err)
		}
	}
}

func TestAllocLarge(t *testing.T) {
	h := New(Config{MaxHeapBytes: 16 * KiB})
	id, err := h.Alloc("Big", 0, LargeObjectBytes)
	if err != nil {
		t.Fatal(err)
	}
	if o := h.Object(id); o.Gen != Old || o.Addr != OldStart {
		t.Fatalf("large object in %s at %s", o.Gen, o.Addr)
	}
	if _, err := h.Alloc("Big", 0, LargeObjectBytes); !errors.Is(err, ErrHeapExhausted) {
		t.Fatalf("want ErrHeapExhausted, got %v", err)
	}
}

func TestFindObject(t *testing.T) {
	h := New(Config{})
	a, _ := h.Alloc("A", 1, 0)
	b, _ := h.Alloc("B", 1, 0)
	h.BuildIndex()
	oa, ob := h.Object(a), h.Object(b)
	for _, tc := range []struct {
		addr VAddr
		want ObjectID
	}{
		{oa.Addr, a},
		{oa.Addr + 8, a},
		{oa.Range().End() - 1, a},
		{ob.Addr, b},
		{ob.Range().End(), NoObject},
		{0x10, NoObject},
		{OldStart, NoObject},
	} {
		if got := h.FindObject(tc.addr); got != tc.want {
			t.Errorf("FindObject(%s) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}

func TestWriteBarrier(t *testing.T) {
	h := New(Config{})
	young, _ := h.Alloc("Young", 0, 0)
	old, _ := h.Alloc("Old", 1, LargeObjectBytes)
	h.SetRef(old, 0, h.Object(young).Addr)
	if rs := h.Remset(); len(rs) != 1 || rs[0] != old {
		t.Fatalf("remset %v, want [%d]", rs, old)
	}
	h.SetRemset(nil)
	if rs := h.Remset(); len(rs) != 0 {
		t.Fatalf("remset %v after reset", rs)
	}
}

func TestSweepAndReuse(t *testing.T) {
	h := New(Config{})
	var ids []ObjectID
	for range 4 {
		id, _ := h.Alloc("X", 0, LargeObjectBytes)
		ids = append(ids, id)
	}
	h.ResetMarks()
	h.TryMark(ids[1])
	h.TryMark(ids[3])
	n, bytes := h.SweepRange(Old, 0, h.Limit())
	if n != 2 || bytes != h.Object(ids[1]).Size*2 {
		t.Fatalf("swept %d objects, %d bytes", n, bytes)
	}
	if h.Live(ids[0]) || !h.Live(ids[1]) {
		t.Fatal("wrong objects swept")
	}

	// Freed IDs aren't reused until the next ResetMarks.
	id, _ := h.Alloc("Y", 0, 0)
	if id == ids[0] || id == ids[2] {
		t.Fatalf("reused ID %d before ResetMarks", id)
	}
	h.ResetMarks()
	id, _ = h.Alloc("Y", 0, 0)
	if id != ids[0] && id != ids[2] {
		t.Fatalf("ID %d not reused after ResetMarks", id)
	}
}

func TestAllocBlack(t *testing.T) {
	h := New(Config{})
	a, _ := h.Alloc("X", 0, LargeObjectBytes)
	h.ResetMarks()
	h.SweepRange(Old, 0, h.Limit())
	h.ResetMarks()

	limit := h.Limit()
	h.SetAllocBlack(true)
	b, _ := h.Alloc("X", 0, LargeObjectBytes)
	if b != a {
		t.Fatalf("expected ID %d to be reused, got %d", a, b)
	}
	if n, _ := h.SweepRange(Old, 0, limit); n != 0 {
		t.Fatalf("sweep freed %d objects allocated during the sweep", n)
	}
	h.SetAllocBlack(false)
}

func TestPromoteAndResetNursery(t *testing.T) {
	h := New(Config{NurseryBytes: 1 * KiB})
	a, _ := h.Alloc("A", 0, 0)
	p, _ := h.Alloc("P", 0, 0)
	c, _ := h.Alloc("C", 0, 0)
	h.Object(p).Pinned = true

	from, to, err := h.Promote(a)
	if err != nil {
		t.Fatal(err)
	}
	if from != NurseryStart || to != OldStart || h.Object(a).Gen != Old {
		t.Fatalf("promote moved %s -> %s", from, to)
	}
	if h.Lookup(to) != a || h.Lookup(from) != NoObject {
		t.Fatal("address index not updated")
	}
	h.Free(c)
	h.ResetNursery()

	size := h.Object(p).Size
	if got, want := h.FreeNurseryBytes(), 1*KiB-size; got != want {
		t.Fatalf("free nursery bytes %d, want %d", got, want)
	}
	// The pinned object splits the nursery; the first fragment is
	// reused first.
	id, _ := h.Alloc("D", 0, 0)
	if h.Object(id).Addr != NurseryStart {
		t.Fatalf("allocated at %s", h.Object(id).Addr)
	}

	st := h.Stats()
	if st.Objects[Nursery] != 2 || st.Objects[Old] != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestPromotePinnedPanics(t *testing.T) {
	h := New(Config{})
	id, _ := h.Alloc("A", 0, 0)
	h.Object(id).Pinned = true
	defer func() {
		if recover() == nil {
			t.Fatal("promoting a pinned object did not panic")
		}
	}()
	h.Promote(id)
}

func TestFragments(t *testing.T) {
	h := New(Config{NurseryBytes: 1 * KiB})
	a, _ := h.Alloc("A", 0, 0)
	b, _ := h.Alloc("B", 0, 0)
	h.Object(b).Pinned = true
	h.Free(a)
	h.ResetNursery()

	size := ObjectBytes(0, 0)
	frags := h.Fragments()
	want := []Range{{NurseryStart, size}, {NurseryStart.Plus(size * 2), 1*KiB - 2*size}}
	if len(frags) != len(want) || frags[0] != want[0] || frags[1] != want[1] {
		t.Fatalf("fragments %v, want %v", frags, want)
	}
	if got := h.AddrOf(b); got != NurseryStart.Plus(size) {
		t.Fatalf("AddrOf = %s", got)
	}
	if h.ObjectAt(NurseryStart.Plus(size)) != b {
		t.Fatal("ObjectAt did not find the pinned object")
	}
}
