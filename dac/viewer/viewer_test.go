// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"gclab/dac"
)

// testGraph returns a graph with cycles 0 -> 1 -> 2 -> 0 and 2 -> 3 -> 2.
func testGraph() *dac.HeapGraph {
	objs := make([]dac.Object, 5)
	for i := range objs {
		objs[i] = dac.Object{Addr: dac.TAddr(0x1000 + 0x100*i), Size: 32, Class: "Node"}
	}
	objs[2].Refs = []dac.TAddr{0x1000, 0x1300 + 8, 0}
	return &dac.HeapGraph{
		Objects: objs,
		To:      [][]int{{1}, {2}, {0, 3}, {2}, {}},
	}
}

func get(t *testing.T, h http.Handler, url string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestCycles(t *testing.T) {
	s := &Server{Graph: testGraph()}
	h := s.Handler()

	type resp struct {
		Nodes []string `json:"nodes"`
		Edges []string `json:"edges"`
	}
	for _, tc := range []struct {
		exc   string
		nodes []string
		edges []string
	}{
		{"", []string{"n0", "n1", "n2", "n3"}, []string{"e0-0", "e1-0", "e2-0", "e2-1", "e3-0"}},
		// Breaking 2 -> 0 leaves only the 2 <-> 3 cycle.
		{"e2-0", []string{"n2", "n3"}, []string{"e2-1", "e3-0"}},
		{"e2-0,e3-0", []string{}, []string{}},
	} {
		code, body := get(t, h, "/cycles.json?exc="+tc.exc)
		if code != http.StatusOK {
			t.Fatalf("exc=%s: status %d: %s", tc.exc, code, body)
		}
		var r resp
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			t.Fatal(err)
		}
		slices.Sort(r.Nodes)
		slices.Sort(r.Edges)
		if !slices.Equal(r.Nodes, tc.nodes) || !slices.Equal(r.Edges, tc.edges) {
			t.Errorf("exc=%s: got %v %v, want %v %v", tc.exc, r.Nodes, r.Edges, tc.nodes, tc.edges)
		}
	}

	for _, bad := range []string{"x", "e9-0", "e0-5"} {
		if code, _ := get(t, h, "/cycles.json?exc="+bad); code != http.StatusBadRequest {
			t.Errorf("exc=%s: status %d, want 400", bad, code)
		}
	}
}

func TestObjectAndDot(t *testing.T) {
	s := &Server{Graph: testGraph()}
	h := s.Handler()

	code, body := get(t, h, "/objects/n2")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	for _, want := range []string{`"addr":"0x1200"`, `"node":"n0"`, `"node":"n3"`, `"addr":"0x0"`} {
		if !strings.Contains(body, want) {
			t.Errorf("object body missing %s: %s", want, body)
		}
	}
	if code, _ := get(t, h, "/objects/n9"); code != http.StatusNotFound {
		t.Errorf("missing object: status %d", code)
	}

	_, cyc := get(t, h, "/graph.dot")
	_, full := get(t, h, "/graph.dot?full=1")
	if strings.Contains(cyc, "n4") || !strings.Contains(full, "n4") {
		t.Errorf("node 4 is on no cycle:\ncycles:\n%s\nfull:\n%s", cyc, full)
	}

	if code, body := get(t, h, "/"); code != http.StatusOK || !strings.Contains(body, "cycles.json") {
		t.Errorf("index: status %d", code)
	}
}

func TestGraphSVG(t *testing.T) {
	if _, err := exec.LookPath("dot"); err != nil {
		t.Skip("dot not installed")
	}
	s := &Server{Graph: testGraph()}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	resp, err := http.Get("http://" + s.Addr + "/graph.svg")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<svg") {
		t.Fatalf("status %d: %.200s", resp.StatusCode, body)
	}
}
