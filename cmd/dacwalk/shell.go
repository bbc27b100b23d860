// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gclab/dac"
)

var errQuit = errors.New("quit")

type command struct {
	name  string
	args  string
	help  string
	nargs int
	run   func(s *shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"globals", "", "print the collector globals", 0, (*shell).globals},
		{"heaps", "", "list heaps", 0, (*shell).heaps},
		{"gens", "HEAP", "list the generations of a heap", 1, (*shell).gens},
		{"segs", "HEAP GEN", "list the segments of a generation", 2, (*shell).segs},
		{"objects", "HEAP GEN", "list the objects of a generation", 2, (*shell).objects},
		{"obj", "ADDR", "print the object containing ADDR", 1, (*shell).obj},
		{"read", "ADDR N", "dump N bytes of target memory at ADDR", 2, (*shell).read},
		{"cycles", "", "list the objects on reference cycles", 0, (*shell).cycles},
		{"dot", "[FILE]", "write the cycle subgraph in Graphviz format", -1, (*shell).dot},
		{"help", "", "list commands", 0, (*shell).help},
		{"quit", "", "exit", 0, func(*shell, []string) error { return errQuit }},
	}
}

// A shell runs dacwalk commands against one target.
type shell struct {
	w   *dac.Walker
	out io.Writer

	graph *dac.HeapGraph // Built on first use
}

// exec runs one command line. It returns errQuit for quit.
func (s *shell) exec(line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	for _, c := range commands {
		if c.name != f[0] {
			continue
		}
		args := f[1:]
		if c.nargs >= 0 && len(args) != c.nargs {
			return fmt.Errorf("usage: %s %s", c.name, c.args)
		}
		return c.run(s, args)
	}
	return fmt.Errorf("unknown command %q (try help)", f[0])
}

func (s *shell) help([]string) error {
	for _, c := range commands {
		usage := strings.TrimSpace(c.name + " " + c.args)
		fmt.Fprintf(s.out, "%-18s %s\n", usage, c.help)
	}
	return nil
}

func (s *shell) globals([]string) error {
	fmt.Fprintln(s.out, s.w.Globals())
	return nil
}

func (s *shell) heaps([]string) error {
	heaps, err := s.w.Heaps()
	if err != nil {
		return err
	}
	for _, h := range heaps {
		fmt.Fprintf(s.out, "heap %d at %v\n", h.Index, h.Addr)
	}
	return nil
}

func (s *shell) heap(arg string) (dac.Heap, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return dac.Heap{}, fmt.Errorf("bad heap index %q", arg)
	}
	heaps, err := s.w.Heaps()
	if err != nil {
		return dac.Heap{}, err
	}
	if i < 0 || i >= len(heaps) {
		return dac.Heap{}, fmt.Errorf("heap %d out of range [0,%d)", i, len(heaps))
	}
	return heaps[i], nil
}

func (s *shell) gen(heapArg, genArg string) (dac.Generation, error) {
	h, err := s.heap(heapArg)
	if err != nil {
		return dac.Generation{}, err
	}
	gens, err := s.w.Generations(h)
	if err != nil {
		return dac.Generation{}, err
	}
	i, err := strconv.Atoi(genArg)
	if err != nil {
		return dac.Generation{}, fmt.Errorf("bad generation %q", genArg)
	}
	if i < 0 || i >= len(gens) {
		return dac.Generation{}, fmt.Errorf("generation %d out of range [0,%d)", i, len(gens))
	}
	return gens[i], nil
}

func (s *shell) gens(args []string) error {
	h, err := s.heap(args[0])
	if err != nil {
		return err
	}
	gens, err := s.w.Generations(h)
	if err != nil {
		return err
	}
	for _, g := range gens {
		fmt.Fprintf(s.out, "gen %d: start segment %v, alloc context [%v,%v)\n", g.Index, g.StartSegment, g.AllocPtr, g.AllocLimit)
	}
	return nil
}

func (s *shell) segs(args []string) error {
	g, err := s.gen(args[0], args[1])
	if err != nil {
		return err
	}
	for seg, err := range s.w.Segments(g) {
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "segment %v: [%v,%v)\n", seg.Addr, seg.Mem, seg.Allocated)
	}
	return nil
}

func (s *shell) objects(args []string) error {
	g, err := s.gen(args[0], args[1])
	if err != nil {
		return err
	}
	n := 0
	for o, err := range s.w.Objects(g) {
		if err != nil {
			return err
		}
		printObject(s.out, &o)
		n++
	}
	fmt.Fprintf(s.out, "%d objects\n", n)
	return nil
}

func printObject(w io.Writer, o *dac.Object) {
	fmt.Fprintf(w, "%v %6d %s", o.Addr, o.Size, o.Class)
	for _, r := range o.Refs {
		if r != 0 {
			fmt.Fprintf(w, " %v", r)
		}
	}
	fmt.Fprintln(w)
}

func parseAddr(s string) (dac.TAddr, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return dac.TAddr(a), nil
}

func (s *shell) heapGraph() (*dac.HeapGraph, error) {
	if s.graph == nil {
		g, err := s.w.Graph()
		if err != nil {
			return nil, err
		}
		s.graph = g
	}
	return s.graph, nil
}

func (s *shell) obj(args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	g, err := s.heapGraph()
	if err != nil {
		return err
	}
	i := g.Find(addr)
	if i < 0 {
		return fmt.Errorf("no object at %v", addr)
	}
	printObject(s.out, &g.Objects[i])
	for _, j := range g.Out(i) {
		fmt.Fprintf(s.out, "  -> %v %s\n", g.Objects[j].Addr, g.Objects[j].Class)
	}
	return nil
}

func (s *shell) read(args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 || n > 1<<20 {
		return fmt.Errorf("bad length %q", args[1])
	}
	buf, err := s.w.Read(addr, n)
	if err != nil {
		return err
	}
	d := hex.Dumper(s.out)
	d.Write(buf)
	return d.Close()
}

func (s *shell) cycles([]string) error {
	g, err := s.heapGraph()
	if err != nil {
		return err
	}
	nodes, edges := dac.Cycles(g)
	for _, n := range nodes {
		o := &g.Objects[n]
		fmt.Fprintf(s.out, "%v %s\n", o.Addr, o.Class)
	}
	fmt.Fprintf(s.out, "%d objects and %d references on cycles", len(nodes), len(edges))
	if g.Dangling > 0 {
		fmt.Fprintf(s.out, ", %d dangling references", g.Dangling)
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *shell) dot(args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: dot [FILE]")
	}
	g, err := s.heapGraph()
	if err != nil {
		return err
	}
	sub := g.Filter(dac.Cycles(g))
	if len(args) == 0 || args[0] == "-" {
		sub.WriteDot(s.out)
		return nil
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	sub.WriteDot(f)
	return f.Close()
}
