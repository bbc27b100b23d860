// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package invivo

import (
	"strings"
	"testing"
)

var (
	testAvg  = NewMetricAvg("test-avg")
	testRate = NewMetricRate("test-rate")
	testMax  = NewMetricQuantile("test-max", 1)
)

func findLine(t *testing.T, out, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("no line starting with %q in:\n%s", prefix, out)
	return ""
}

func TestReport(t *testing.T) {
	b := NewBenchmark("Phase")
	for i := 1; i <= 4; i++ {
		r := b.Start()
		testAvg.Set(r, float64(i))
		testRate.Set(r, float64(i), 2)
		testMax.Set(r, float64(i*10))
		if d := r.Done(); d < 0 {
			t.Fatalf("negative elapsed time %v", d)
		}
	}

	var sb strings.Builder
	Report(&sb)
	line := findLine(t, sb.String(), "BenchmarkPhase\t")
	for _, want := range []string{"\t4\t", " ns/op", "\t2.500000 test-avg", "\t1.250000 test-rate", "\t40.000000 test-max"} {
		if !strings.Contains(line, want) {
			t.Errorf("report %q missing %q", line, want)
		}
	}

	// Report clears the benchmark.
	sb.Reset()
	Report(&sb)
	if strings.Contains(sb.String(), "BenchmarkPhase") {
		t.Errorf("second report repeated results:\n%s", sb.String())
	}
}

func TestMissingMetric(t *testing.T) {
	b := NewBenchmark("Missing")
	r := b.Start()
	testAvg.Set(r, 1)
	r.Done()
	b.Start().Done()

	var sb strings.Builder
	Report(&sb)
	if !strings.Contains(sb.String(), `# Warning: "test-avg" has samples from 1 runs of 2`) {
		t.Errorf("no missing metric warning:\n%s", sb.String())
	}
}

func TestInvalidate(t *testing.T) {
	b := NewBenchmark("Perturbed")
	r := b.Start()
	Invalidate()
	r.Done()

	var sb strings.Builder
	Report(&sb)
	if !strings.Contains(sb.String(), "# Warning: All runs invalid\n# BenchmarkPerturbed\t1") {
		t.Errorf("invalid run not flagged:\n%s", sb.String())
	}

	// A timer stopped across the invalidation doesn't count.
	r = b.Start()
	r.StopTimer()
	Invalidate()
	r.StartTimer()
	r.Done()
	sb.Reset()
	Report(&sb)
	if strings.Contains(sb.String(), "Warning") {
		t.Errorf("run invalidated while stopped:\n%s", sb.String())
	}
}

func TestReportAll(t *testing.T) {
	var each strings.Builder
	b := NewBenchmark("Each").ReportAll(&each)
	for range 2 {
		r := b.Start()
		testAvg.Set(r, 7)
		r.Done()
	}
	b.Start().DoneImmediate("sub")

	out := each.String()
	if n := strings.Count(out, "BenchmarkEachOne\t1\t"); n != 2 {
		t.Errorf("got %d per-run lines, want 2:\n%s", n, out)
	}
	if !strings.Contains(findLine(t, out, "BenchmarkEachOne"), "7.000000 test-avg") {
		t.Errorf("per-run line missing metric:\n%s", out)
	}
	findLine(t, out, "BenchmarkEach/sub\t1\t")

	var sb strings.Builder
	Report(&sb)
	if strings.Contains(sb.String(), "BenchmarkEach") {
		t.Errorf("ReportAll benchmark summarized:\n%s", sb.String())
	}
}

func TestReuseAfterDone(t *testing.T) {
	b := NewBenchmark("Reuse")
	r := b.Start()
	r.Done()
	defer func() {
		if recover() == nil {
			t.Fatal("using a finished Run did not panic")
		}
		var sb strings.Builder
		Report(&sb)
	}()
	r.Elapsed()
}
