// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pinning records why objects were pinned during a collection
// and which objects have been pinned so often that they are cemented.
package pinning

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"gclab/heap"
)

// PinType is the reason an address was pinned.
type PinType uint8

const (
	PinStack PinType = iota
	PinStaticData
	PinOther

	NumPinTypes
)

func (t PinType) String() string {
	switch t {
	case PinStack:
		return "stack"
	case PinStaticData:
		return "static"
	case PinOther:
		return "other"
	}
	return fmt.Sprintf("PinType(%d)", int(t))
}

// Bit returns t's bit in a pin type mask.
func (t PinType) Bit() uint8 {
	return 1 << t
}

// Stats gathers pinning statistics for one collection.
//
// Pinned addresses are kept in a treap keyed by address. Nodes are
// indices into an arena slice, so Reset drops the whole tree at once.
//
// Stats is not safe for concurrent use. It is built and read on the
// goroutine that enumerates pinned roots during a pause.
type Stats struct {
	enabled bool

	nodes []pinNode // nodes[0] is the nil node
	root  int32

	// PinnedByteCounts is the number of bytes of objects pinned for each
	// reason. An object pinned for several reasons counts once towards
	// each of them.
	PinnedByteCounts [NumPinTypes]heap.Bytes

	pinnedObjects []heap.VAddr
	classes       map[string]*ClassEntry
	remsets       map[string]int
}

type pinNode struct {
	addr        heap.VAddr
	pinTypes    uint8
	prio        uint32
	left, right int32
}

// ClassEntry counts pinned objects of one class by pin type.
type ClassEntry struct {
	NumPins [NumPinTypes]int
}

// NewStats returns empty, disabled statistics.
func NewStats() *Stats {
	s := &Stats{}
	s.Reset()
	return s
}

// Enable turns on statistics gathering. While disabled, the Register
// methods do nothing.
func (s *Stats) Enable() {
	s.enabled = true
}

// Enabled reports whether statistics are being gathered.
func (s *Stats) Enabled() bool {
	return s.enabled
}

// Reset discards all state. It must be called once at the start of every
// collection, before any address is registered.
func (s *Stats) Reset() {
	s.nodes = append(s.nodes[:0], pinNode{})
	s.root = 0
	s.PinnedByteCounts = [NumPinTypes]heap.Bytes{}
	s.pinnedObjects = s.pinnedObjects[:0]
	s.classes = make(map[string]*ClassEntry)
	s.remsets = make(map[string]int)
}

// prio derives a treap priority from an address, so the tree shape is a
// deterministic function of the set of addresses.
func prio(addr heap.VAddr) uint32 {
	x := uint64(addr)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uint32(x)
}

// RegisterAddress records that addr was pinned for reason t. Registering
// the same address again ORs in the new reason.
func (s *Stats) RegisterAddress(addr heap.VAddr, t PinType) {
	if t >= NumPinTypes {
		panic(fmt.Sprintf("bad pin type %d", t))
	}
	if !s.enabled {
		return
	}
	s.root = s.insert(s.root, addr, t.Bit())
}

func (s *Stats) insert(n int32, addr heap.VAddr, bits uint8) int32 {
	if n == 0 {
		s.nodes = append(s.nodes, pinNode{addr: addr, pinTypes: bits, prio: prio(addr)})
		return int32(len(s.nodes) - 1)
	}
	// Don't hold a pointer into s.nodes across insert; it may grow.
	switch {
	case addr == s.nodes[n].addr:
		s.nodes[n].pinTypes |= bits
	case addr < s.nodes[n].addr:
		l := s.insert(s.nodes[n].left, addr, bits)
		s.nodes[n].left = l
		if s.nodes[l].prio > s.nodes[n].prio {
			n = s.rotateRight(n)
		}
	default:
		r := s.insert(s.nodes[n].right, addr, bits)
		s.nodes[n].right = r
		if s.nodes[r].prio > s.nodes[n].prio {
			n = s.rotateLeft(n)
		}
	}
	return n
}

func (s *Stats) rotateRight(n int32) int32 {
	l := s.nodes[n].left
	s.nodes[n].left = s.nodes[l].right
	s.nodes[l].right = n
	return l
}

func (s *Stats) rotateLeft(n int32) int32 {
	r := s.nodes[n].right
	s.nodes[n].right = s.nodes[r].left
	s.nodes[r].left = n
	return r
}

// Lookup returns the pin type mask registered for addr.
func (s *Stats) Lookup(addr heap.VAddr) uint8 {
	n := s.root
	for n != 0 {
		nd := &s.nodes[n]
		switch {
		case addr == nd.addr:
			return nd.pinTypes
		case addr < nd.addr:
			n = nd.left
		default:
			n = nd.right
		}
	}
	return 0
}

// CountObjectFromTree accounts for the object occupying [obj, obj+size).
// For every pin type registered at any address inside the object, size
// is added to PinnedByteCounts for that type exactly once, no matter how
// many pinned addresses fall inside the object. It returns the mask of
// pin types found.
func (s *Stats) CountObjectFromTree(obj heap.VAddr, size heap.Bytes) uint8 {
	var pinTypes uint8
	s.countObject(obj, size, s.root, &pinTypes)
	return pinTypes
}

func (s *Stats) countObject(obj heap.VAddr, size heap.Bytes, n int32, pinTypes *uint8) {
	if n == 0 {
		return
	}
	nd := &s.nodes[n]
	end := obj.Plus(size)
	if nd.addr >= obj && nd.addr < end {
		for t := range NumPinTypes {
			bit := t.Bit()
			if *pinTypes&bit == 0 && nd.pinTypes&bit != 0 {
				s.PinnedByteCounts[t] += size
				*pinTypes |= bit
			}
		}
	}
	if obj < nd.addr {
		s.countObject(obj, size, nd.left, pinTypes)
	}
	if end > nd.addr {
		s.countObject(obj, size, nd.right, pinTypes)
	}
}

// RegisterObject records a pinned object of the given class and
// accounts for its bytes by pin reason. It returns the object's pin
// type mask.
func (s *Stats) RegisterObject(obj heap.VAddr, size heap.Bytes, class string) uint8 {
	if !s.enabled {
		return 0
	}
	pinTypes := s.CountObjectFromTree(obj, size)
	s.pinnedObjects = append(s.pinnedObjects, obj)
	if pinTypes == 0 {
		return 0
	}
	ent := s.classes[class]
	if ent == nil {
		ent = new(ClassEntry)
		s.classes[class] = ent
	}
	for t := range NumPinTypes {
		if pinTypes&t.Bit() != 0 {
			ent.NumPins[t]++
		}
	}
	return pinTypes
}

// RegisterGlobalRemset records that an object of class needed a global
// remembered set entry because it is pinned in the nursery.
func (s *Stats) RegisterGlobalRemset(class string) {
	if !s.enabled {
		return
	}
	s.remsets[class]++
}

// PinnedObjects returns the objects registered with RegisterObject.
func (s *Stats) PinnedObjects() []heap.VAddr {
	return s.pinnedObjects
}

// Class returns the pin counts for class, or nil.
func (s *Stats) Class(class string) *ClassEntry {
	return s.classes[class]
}

// NumAddresses returns the number of distinct registered addresses.
func (s *Stats) NumAddresses() int {
	return len(s.nodes) - 1
}

// Report writes a table of pinned classes, global remsets and pinned
// bytes to w.
func (s *Stats) Report(w io.Writer) {
	fmt.Fprintf(w, "\n%-50s  %10s  %10s  %10s\n", "Class", "Stack", "Static", "Other")
	for _, name := range sortedKeys(s.classes) {
		ent := s.classes[name]
		fmt.Fprintf(w, "%-50s  %10d  %10d  %10d\n", trim(name), ent.NumPins[PinStack], ent.NumPins[PinStaticData], ent.NumPins[PinOther])
	}
	fmt.Fprintf(w, "\n%-50s  %10s\n", "Class", "#Remsets")
	for _, name := range sortedKeys(s.remsets) {
		fmt.Fprintf(w, "%-50s  %10d\n", trim(name), s.remsets[name])
	}
	fmt.Fprintf(w, "\nTotal bytes pinned from stack: %d  static: %d  other: %d\n",
		s.PinnedByteCounts[PinStack], s.PinnedByteCounts[PinStaticData], s.PinnedByteCounts[PinOther])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func trim(name string) string {
	const max = 50
	if len(name) <= max {
		return name
	}
	return "..." + name[len(name)-(max-3):]
}

// String returns the report as a string.
func (s *Stats) String() string {
	var b strings.Builder
	s.Report(&b)
	return b.String()
}
