// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
	"github.com/aclements/go-moremath/graph/graphout"
)

// HeapGraph is the object graph of a target. Each node is an object and
// each edge is a reference slot that points into another object. A
// reference to the middle of an object is an edge to that object.
//
// HeapGraph satisfies the graph.Graph interface.
type HeapGraph struct {
	Objects []Object // Node ID -> object, in address order
	To      [][]int  // Node ID -> Edge number -> Target node ID

	// Dangling counts non-nil references that do not point into any
	// object.
	Dangling int

	// For a graph returned by Filter, Orig maps node IDs and
	// OrigEdges maps edge numbers to those of the unfiltered graph.
	Orig      []int
	OrigEdges [][]int
}

func (g *HeapGraph) origNode(node int) int {
	if g.Orig == nil {
		return node
	}
	return g.Orig[node]
}

func (g *HeapGraph) origEdge(node, edge int) int {
	if g.OrigEdges == nil {
		return edge
	}
	return g.OrigEdges[node][edge]
}

func (g *HeapGraph) NumNodes() int {
	return len(g.Objects)
}

func (g *HeapGraph) Out(i int) []int {
	return g.To[i]
}

func (g *HeapGraph) Label(i int) string {
	o := &g.Objects[i]
	return fmt.Sprintf("%s\n%v", o.Class, o.Addr)
}

// Find returns the node containing addr, or -1.
func (g *HeapGraph) Find(addr TAddr) int {
	i, found := slices.BinarySearchFunc(g.Objects, addr, func(o Object, a TAddr) int {
		return cmp.Compare(o.Addr, a)
	})
	if found {
		return i
	}
	if i > 0 && addr < g.Objects[i-1].End() {
		return i - 1
	}
	return -1
}

// Graph reads every object of the target and returns the object graph.
func (w *Walker) Graph() (*HeapGraph, error) {
	g := new(HeapGraph)
	for o, err := range w.HeapObjects() {
		if err != nil {
			return nil, err
		}
		g.Objects = append(g.Objects, o)
	}
	slices.SortFunc(g.Objects, func(a, b Object) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	g.To = make([][]int, len(g.Objects))
	for i := range g.Objects {
		for _, r := range g.Objects[i].Refs {
			if r == 0 {
				continue
			}
			j := g.Find(r)
			if j < 0 {
				g.Dangling++
				continue
			}
			g.To[i] = append(g.To[i], j)
		}
	}
	return g, nil
}

// Cycles returns the nodes and edges involved in cycles of g.
func Cycles(g graph.Graph) (nodes []int, edges []graph.Edge) {
	// Nodes involved in cycles are those in non-trivial strongly
	// connected components, plus nodes with self edges.
	scc := graphalg.SCC(g, graphalg.SCCSubnodeComponent)
	marks := graphalg.NewNodeMarks()
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) == 1 && !slices.Contains(g.Out(nids[0]), nids[0]) {
			continue
		}
		for _, nid := range nids {
			marks.Mark(nid)
		}
	}

	for nid := marks.Next(-1); nid >= 0; nid = marks.Next(nid) {
		nodes = append(nodes, nid)
	}
	for _, nid := range nodes {
		cid := scc.SubnodeComponent(nid)
		for eid, n2id := range g.Out(nid) {
			if scc.SubnodeComponent(n2id) == cid {
				edges = append(edges, graph.Edge{Node: nid, Edge: eid})
			}
		}
	}
	return
}

// Filter returns the subgraph of g made of nodes and edges. It panics if
// an included edge points to an excluded node.
func (g *HeapGraph) Filter(nodes []int, edges []graph.Edge) *HeapGraph {
	oldToNew := make(map[int]int, len(nodes))
	out := &HeapGraph{
		Objects:   make([]Object, len(nodes)),
		To:        make([][]int, len(nodes)),
		Orig:      make([]int, len(nodes)),
		OrigEdges: make([][]int, len(nodes)),
	}
	for newID, oldID := range nodes {
		out.Objects[newID] = g.Objects[oldID]
		out.Orig[newID] = g.origNode(oldID)
		oldToNew[oldID] = newID
	}
	for _, e := range edges {
		n1, ok := oldToNew[e.Node]
		if !ok {
			panic("cannot include edge from excluded node")
		}
		n2, ok := oldToNew[g.To[e.Node][e.Edge]]
		if !ok {
			panic("cannot include edge to excluded node")
		}
		out.To[n1] = append(out.To[n1], n2)
		out.OrigEdges[n1] = append(out.OrigEdges[n1], g.origEdge(e.Node, e.Edge))
	}
	return out
}

// WriteDot writes g in Graphviz format. Nodes and edges get id
// attributes that NodeID and EdgeID reproduce. A filtered graph uses
// the IDs of the unfiltered graph.
func (g *HeapGraph) WriteDot(w io.Writer) {
	nodeAttrs := func(node int) []graphout.DotAttr {
		return []graphout.DotAttr{
			{Name: "id", Val: NodeID(g.origNode(node))},
			{Name: "shape", Val: "box"},
		}
	}
	edgeAttrs := func(node, edge int) []graphout.DotAttr {
		return []graphout.DotAttr{
			{Name: "id", Val: EdgeID(g.origNode(node), g.origEdge(node, edge))},
		}
	}
	graphout.Dot{Label: g.Label, NodeAttrs: nodeAttrs, EdgeAttrs: edgeAttrs}.Fprint(w, g)
}

// NodeID returns the DOT id of node.
func NodeID(node int) string {
	return fmt.Sprintf("n%d", node)
}

// EdgeID returns the DOT id of an edge.
func EdgeID(node, edge int) string {
	return fmt.Sprintf("e%d-%d", node, edge)
}
