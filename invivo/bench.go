// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package invivo times phases of a running program and reports them as
// Go benchmark results.
//
// A Benchmark is declared once, usually as a package variable. Each time
// the timed code runs it calls Start and then Done on the returned Run.
// Metrics attach extra values to a Run. Report prints one benchmark line
// per Benchmark in the format understood by benchstat.
package invivo

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type Benchmark struct {
	name string

	reportAll bool

	once    sync.Once
	runPool sync.Pool // of *runInternal, with metrics that are children of rootMetrics

	lock        sync.Mutex
	runs        int
	invalid     int
	rootMetrics []metricAccum // root metrics, allocated under once.

	// out receives per-run reports. It is set by ReportAll.
	out io.Writer
}

// Run is one timed execution of a Benchmark. It is a small value that
// may be passed around freely until Done is called.
type Run struct {
	runInternal *runInternal
	poolSeq     uint32
}

type runInternal struct {
	poolSeq uint32

	b     *Benchmark
	accum time.Duration
	start time.Time

	validSeq uint64
	invalid  bool

	metrics []metricAccum
}

var (
	benchLock     sync.Mutex
	allBenchmarks []*Benchmark
)

var valid atomic.Uint64

var numRuns atomic.Int64

func NewBenchmark(name string) *Benchmark {
	b := &Benchmark{name: name}
	benchLock.Lock()
	allBenchmarks = append(allBenchmarks, b)
	benchLock.Unlock()
	return b
}

// ReportAll makes b report every run as it finishes instead of one
// summary line per Report. Per-run lines are written to w.
func (b *Benchmark) ReportAll(w io.Writer) *Benchmark {
	b.reportAll = true
	b.out = w
	return b
}

// Name returns the benchmark name.
func (b *Benchmark) Name() string {
	return b.name
}

func (b *Benchmark) Start() Run {
	b.once.Do(func() {
		// Set up the metrics the first time we start a benchmark. We can't do
		// this in NewBenchmark because allMetrics may not be fully populated at
		// that time. (There are other ways to do this, like reinitializing on
		// every registerMetric, or initializing the root metrics for ALL
		// benchmarks on the first Start.)
		metricsLock.Lock()
		root := make([]metricAccum, len(allMetrics))
		for i := range root {
			root[i] = allMetrics[i].new()
		}
		metricsLock.Unlock()
		b.rootMetrics = root
		b.runPool.New = func() any {
			accums := make([]metricAccum, len(root))
			for i := range accums {
				accums[i] = root[i].new()
			}
			return &runInternal{
				b:       b,
				metrics: accums,
			}
		}
	})

	// We try really hard to avoid allocation as part of Run. Hence, we use a
	// pool for the internals of Run. This is hidden from the user, but of
	// course we can't prevent the user from copying the Run itself, so we also
	// use a sequence number to protect against use-after-free bugs.
	numRuns.Add(1)
	internal := b.runPool.Get().(*runInternal)
	r := Run{internal, internal.poolSeq}
	r.StartTimer()
	return r
}

func (r Run) internal() *runInternal {
	if r.runInternal == nil || r.poolSeq != r.runInternal.poolSeq {
		panic("Run reused after Done")
	}
	return r.runInternal
}

func (r Run) StopTimer() {
	ri := r.internal()
	if ri.start.IsZero() {
		return
	}
	ri.accum += time.Since(ri.start)
	ri.start = time.Time{}
	ri.invalid = ri.invalid || ri.validSeq != valid.Load()
}

func (r Run) StartTimer() {
	ri := r.internal()
	if !ri.start.IsZero() {
		return
	}
	ri.validSeq = valid.Load()
	ri.start = time.Now()
}

func (r Run) Elapsed() time.Duration {
	ri := r.internal()
	e := ri.accum
	if !ri.start.IsZero() {
		e += time.Since(ri.start)
	}
	return e
}

// Done finishes r and returns its elapsed time. r must not be used
// afterwards.
func (r Run) Done() time.Duration {
	return r.doneInternal(false, "")
}

// DoneImmediate is like Done, but immediately reports this iteration's results,
// optionally with a sub-benchmark name.
func (r Run) DoneImmediate(subBenchmark string) time.Duration {
	return r.doneInternal(true, subBenchmark)
}

func (r Run) doneInternal(report bool, subBenchmark string) time.Duration {
	r.StopTimer()

	ri := r.internal()
	elapsed := ri.accum

	metricNSPerOp.Set(r, float64(elapsed))

	ri.b.lock.Lock()
	defer ri.b.lock.Unlock()

	ri.b.runs++
	if ri.invalid {
		ri.b.invalid++
	}

	if !ri.invalid && ri.b.out != nil {
		if report {
			reportOne(ri.b.out, ri.b.name, subBenchmark, 1, ri.metrics)
		} else if ri.b.reportAll {
			reportOne(ri.b.out, ri.b.name+"One", "", 1, ri.metrics)
		}
	}

	// Merge our metrics into the benchmark
	for _, m := range ri.metrics {
		m.commit()
	}

	// Clear fields and return to the pool
	ri.accum = 0
	ri.invalid = false
	ri.poolSeq++
	ri.b.runPool.Put(ri)
	numRuns.Add(-1)
	return elapsed
}

// Invalidate invalidates the results of all currently running benchmarks.
func Invalidate() {
	valid.Add(1)
}

// Report writes a summary line for every benchmark with runs since the
// last Report and clears them. It panics if a Run is still pending.
func Report(w io.Writer) {
	if v := numRuns.Load(); v != 0 {
		panic(fmt.Sprintf("%d runs still pending", v))
	}

	benchLock.Lock()
	bs := allBenchmarks
	benchLock.Unlock()

	for _, b := range bs {
		b.lock.Lock()
		b.report(w)
		b.lock.Unlock()
	}
}

func (b *Benchmark) report(w io.Writer) {
	if b.runs == 0 {
		return
	}
	if !b.reportAll {
		if b.runs == b.invalid {
			fmt.Fprintf(w, "# Warning: All runs invalid\n# ")
		} else if b.invalid > 0 {
			fmt.Fprintf(w, "# Warning: %d runs invalid\n", b.invalid)
		}
		reportOne(w, b.name, "", b.runs, b.rootMetrics)
	}

	// Clear the benchmark
	b.runs = 0
	b.invalid = 0
	for i := range b.rootMetrics {
		b.rootMetrics[i].reset()
	}
}

func reportOne(w io.Writer, name, subName string, runs int, metrics []metricAccum) {
	// Report missing metrics first.
	for i, d := range metrics {
		if d.count() != 0 && d.count() != runs {
			fmt.Fprintf(w, "# Warning: %q has samples from %d runs of %d\n", metricName(i), d.count(), runs)
		}
	}

	if subName == "" {
		fmt.Fprintf(w, "Benchmark%s\t%d", name, runs)
	} else {
		fmt.Fprintf(w, "Benchmark%s/%s\t%d", name, subName, runs)
	}

	for i, d := range metrics {
		if d.count() == 0 {
			continue
		}
		fmt.Fprintf(w, "\t%f %s", d.report(), metricName(i))
	}

	fmt.Fprintf(w, "\n")
}
