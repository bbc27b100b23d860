// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"strings"
	"testing"

	"gclab/dac"
)

func testShell(t *testing.T) (*shell, *strings.Builder) {
	t.Helper()
	var b dac.Builder
	b.AddHeap(
		dac.GenerationSpec{
			Segments: []dac.SegmentSpec{{
				Mem: 0x10000, Allocated: 0x10100,
				Objects: []dac.ObjectSpec{
					{Addr: 0x10000, Size: 32, Class: "Node", Refs: []dac.TAddr{0x10020}},
					{Addr: 0x10020, Size: 32, Class: "Node", Refs: []dac.TAddr{0x10000}},
					{Addr: 0x10040, Size: 24, Class: "Leaf"},
				},
			}},
			AllocPtr: 0x10080, AllocLimit: 0x10100,
		},
		dac.GenerationSpec{
			Segments: []dac.SegmentSpec{{
				Mem: 0x20000, Allocated: 0x20020,
				Objects: []dac.ObjectSpec{
					{Addr: 0x20000, Size: 32, Class: "Holder", Refs: []dac.TAddr{0x10040, 0}},
				},
			}},
		},
	)
	img, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	w, err := dac.NewWalker(img)
	if err != nil {
		t.Fatal(err)
	}
	out := new(strings.Builder)
	return &shell{w: w, out: out}, out
}

func TestCommands(t *testing.T) {
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"heaps", []string{"heap 0 at "}},
		{"gens 0", []string{"gen 0:", "gen 1:"}},
		{"segs 0 1", []string{"[0x20000,0x20020)"}},
		{"objects 0 0", []string{"Node", "Leaf", "3 objects"}},
		{"objects 0 1", []string{"Holder 0x10040", "1 objects"}},
		{"obj 0x20008", []string{"Holder", "-> 0x10040 Leaf"}},
		{"cycles", []string{"0x10000 Node", "0x10020 Node", "2 objects and 2 references on cycles"}},
		{"dot", []string{"digraph"}},
		{"read 0x10000 16", []string{"00000000"}},
		{"help", []string{"objects HEAP GEN"}},
	} {
		sh, out := testShell(t)
		if err := sh.exec(tc.line); err != nil {
			t.Errorf("%s: %v", tc.line, err)
			continue
		}
		for _, want := range tc.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("%s: output does not contain %q:\n%s", tc.line, want, out)
			}
		}
	}
}

func TestCommandErrors(t *testing.T) {
	for _, tc := range []struct {
		line string
		want string
	}{
		{"bogus", "unknown command"},
		{"gens", "usage: gens HEAP"},
		{"gens 1", "out of range"},
		{"objects 0 2", "out of range"},
		{"obj zzz", "bad address"},
		{"obj 0x90000", "no object"},
		{"read 0x10000 0", "bad length"},
		{"dot a b", "usage: dot"},
	} {
		sh, _ := testShell(t)
		err := sh.exec(tc.line)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: got error %v, want %q", tc.line, err, tc.want)
		}
	}

	sh, _ := testShell(t)
	if err := sh.exec("quit"); err != errQuit {
		t.Errorf("quit: got %v", err)
	}
	if err := sh.exec("   "); err != nil {
		t.Errorf("empty line: got %v", err)
	}
}
