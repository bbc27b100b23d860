// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package viewer implements an HTML-based interactive viewer for heap
// object graphs.
package viewer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/aclements/go-moremath/graph"

	"gclab/cache"
	"gclab/dac"
)

//go:embed index.html
var indexHTML []byte

// Server is an HTTP server that serves the interactive heap graph
// viewer.
type Server struct {
	// Addr is the network address to listen on, as used by
	// net.Listen. If this is "", the server listens on 127.0.0.1
	// at a random port.
	//
	// Server.Start updates Addr to reflect the full address the
	// server is listening on.
	Addr string

	// Graph is the heap graph to serve.
	Graph *dac.HeapGraph

	// graphSVG caches the rendered graph. Only the cycle subgraph is
	// rendered when Full is false; whole heaps are usually too large
	// for dot.
	graphSVG cache.Cache[bool, svgResult]

	hs *http.Server
}

type svgResult struct {
	svg []byte
	err error
}

// Start starts the HTTP viewer server. It returns once the server is
// listening. It sets s.Addr to the full address the server is
// listening on.
func (s *Server) Start() error {
	// Open listener.
	address := s.Addr
	if address == "" {
		address = "127.0.0.1:"
	}
	sock, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	// Update s.Addr to the real address we're listening on.
	s.Addr = sock.Addr().String()

	// Start the server
	s.hs = &http.Server{Handler: s.Handler()}
	go s.hs.Serve(sock)
	return nil
}

// Close stops the server.
func (s *Server) Close() error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Close()
}

// Handler returns the viewer's HTTP handler.
func (s *Server) Handler() http.Handler {
	s.graphSVG.New = s.makeGraphSVG

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/graph.dot", s.handleDot)
	mux.HandleFunc("/graph.svg", s.handleGraph)
	mux.HandleFunc("/cycles.json", s.handleCycles)
	mux.HandleFunc("/objects/", s.handleObject)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// subgraph returns the graph to render: the whole graph if full is set,
// otherwise the nodes and edges on cycles.
func (s *Server) subgraph(full bool) *dac.HeapGraph {
	if full {
		return s.Graph
	}
	nodes, edges := dac.Cycles(s.Graph)
	return s.Graph.Filter(nodes, edges)
}

func (s *Server) handleDot(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("content-type", "text/vnd.graphviz")
	s.subgraph(req.FormValue("full") != "").WriteDot(w)
}

// handleGraph responds with the SVG of the heap graph.
func (s *Server) handleGraph(w http.ResponseWriter, req *http.Request) {
	res := s.graphSVG.Get(req.FormValue("full") != "")
	if res.err != nil {
		http.Error(w, res.err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "image/svg+xml")
	w.Write(res.svg)
}

// handleCycles responds with the set of nodes and edges involved in
// cycles, after removing the edges listed in the exc parameter.
func (s *Server) handleCycles(w http.ResponseWriter, req *http.Request) {
	var g graph.Graph = s.Graph
	nodeMap := func(node int) interface{} { return node }
	edgeMap := func(node, edge int) interface{} { return graph.Edge{Node: node, Edge: edge} }

	// Delete excluded edges.
	if exc := req.FormValue("exc"); exc != "" {
		rmEdges := []graph.Edge{}
		for _, part := range strings.Split(exc, ",") {
			edge, err := parseEdgeID(part)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if edge.Node >= s.Graph.NumNodes() || edge.Edge >= len(s.Graph.Out(edge.Node)) {
				http.Error(w, fmt.Sprintf("no edge %s", part), http.StatusBadRequest)
				return
			}
			rmEdges = append(rmEdges, edge)
		}
		subgraph := graph.SubgraphRemove(g, nil, rmEdges)
		g = subgraph
		nodeMap = subgraph.NodeMap(nodeMap)
		edgeMap = subgraph.EdgeMap(edgeMap)
	}

	cNodes, cEdges := dac.Cycles(g)

	// Map to node and edge IDs of the full graph.
	type Response struct {
		Nodes []string `json:"nodes"`
		Edges []string `json:"edges"`
	}
	res := Response{Nodes: []string{}, Edges: []string{}}
	for _, nid := range cNodes {
		res.Nodes = append(res.Nodes, dac.NodeID(nodeMap(nid).(int)))
	}
	for _, edge := range cEdges {
		e := edgeMap(edge.Node, edge.Edge).(graph.Edge)
		res.Edges = append(res.Edges, dac.EdgeID(e.Node, e.Edge))
	}

	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(res)
}

var objectRe = regexp.MustCompile(`^/objects/n(\d+)$`)

// handleObject responds with one object as JSON.
func (s *Server) handleObject(w http.ResponseWriter, req *http.Request) {
	m := objectRe.FindStringSubmatch(req.URL.Path)
	if m == nil {
		http.NotFound(w, req)
		return
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n >= s.Graph.NumNodes() {
		http.NotFound(w, req)
		return
	}
	o := &s.Graph.Objects[n]
	type Ref struct {
		Addr string `json:"addr"`
		Node string `json:"node,omitempty"`
	}
	res := struct {
		Addr  string `json:"addr"`
		Size  uint64 `json:"size"`
		Class string `json:"class"`
		Refs  []Ref  `json:"refs"`
	}{Addr: o.Addr.String(), Size: o.Size, Class: o.Class, Refs: []Ref{}}
	for _, r := range o.Refs {
		ref := Ref{Addr: r.String()}
		if r != 0 {
			if j := s.Graph.Find(r); j >= 0 {
				ref.Node = dac.NodeID(j)
			}
		}
		res.Refs = append(res.Refs, ref)
	}
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// makeGraphSVG is a cache-populator that renders the heap graph with
// dot.
func (s *Server) makeGraphSVG(full bool) svgResult {
	var dotCode bytes.Buffer
	s.subgraph(full).WriteDot(&dotCode)

	// Convert to SVG.
	var svgCode bytes.Buffer
	var stderr strings.Builder
	dot := exec.Command("dot", "-Tsvg")
	dot.Stdin = &dotCode
	dot.Stdout = &svgCode
	dot.Stderr = &stderr
	if err := dot.Run(); err != nil {
		log.Printf("dot failed with %s:\n%s", err, stderr.String())
		return svgResult{err: err}
	}
	return svgResult{svg: svgCode.Bytes()}
}

var edgeIDRe = regexp.MustCompile(`^e(\d+)-(\d+)$`)

func parseEdgeID(eid string) (graph.Edge, error) {
	m := edgeIDRe.FindStringSubmatch(eid)
	if m == nil {
		return graph.Edge{}, fmt.Errorf("malformed edge ID %q", eid)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return graph.Edge{}, err
	}
	e, err := strconv.Atoi(m[2])
	if err != nil {
		return graph.Edge{}, err
	}
	return graph.Edge{Node: n, Edge: e}, nil
}
