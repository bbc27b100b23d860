// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements a generational mark/sweep collector over the
// simulated heap.
//
// A nursery collection marks from the pinned conservative roots, the
// precise static roots and the global remembered set, promotes every
// surviving nursery object that is not pinned to the old generation, and
// rebuilds the nursery around the pinned survivors. A major collection
// marks the whole heap from the roots and sweeps the old generation,
// either in the pause or concurrently with the mutators.
//
// Marking runs on a workers.Workers set. Roots are pinned through the
// pinning package, which also tracks cemented objects: nursery objects
// that are pinned so often that they stop being recorded in the
// remembered set.
package gc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"gclab/config"
	"gclab/gcenv"
	"gclab/gcerr"
	"gclab/heap"
	"gclab/invivo"
	"gclab/layoutstats"
	"gclab/mutator"
	"gclab/pinning"
	"gclab/stats"
	"gclab/workers"
)

const traceGC = false

// ErrClosed is returned by collections after Close.
var ErrClosed = errors.New("collector closed")

// CycleStats describes one collection.
type CycleStats struct {
	Seq   int
	Major bool

	Pause time.Duration

	Marked        int // Objects marked, including pinned ones
	Pinned        int // Objects pinned
	PinnedBytes   [pinning.NumPinTypes]heap.Bytes
	Promoted      int
	PromotedBytes heap.Bytes
	Swept         int // Objects freed during the pause
	SweptBytes    heap.Bytes
	Remset        int // Remembered set size after the collection
	Cemented      int

	// ConcurrentSweep is set if the old generation is being swept in
	// the background after this collection.
	ConcurrentSweep bool
}

func (s CycleStats) String() string {
	kind := "nursery"
	if s.Major {
		kind = "major"
	}
	sweep := ""
	if s.ConcurrentSweep {
		sweep = " (sweeping concurrently)"
	}
	return fmt.Sprintf("gc %d %s: pause %v, marked %d, pinned %d, promoted %d (%s), swept %d (%s), remset %d, cemented %d%s",
		s.Seq, kind, s.Pause, s.Marked, s.Pinned, s.Promoted, s.PromotedBytes, s.Swept, s.SweptBytes, s.Remset, s.Cemented, sweep)
}

// Collector collects the heap of a mutator.World.
type Collector struct {
	cfg   config.Config
	world *mutator.World
	heap  *heap.Heap

	mu     sync.Mutex // Serializes collections
	closed bool

	workers *workers.Workers
	sweeper *sweeper

	pins   *pinning.Stats
	queue  pinning.Queue
	cement *pinning.Cement
	layout layoutstats.Stats

	out io.Writer // Debug reports

	histMu  sync.Mutex
	history []CycleStats
}

// New returns a collector for w configured by cfg and installs it as
// w's collector.
func New(cfg config.Config, w *mutator.World) *Collector {
	threads := cfg.Workers
	if threads <= 0 {
		threads = int(gcenv.GetSystemInfo().NumberOfProcessors)
	}
	c := &Collector{
		cfg:    cfg,
		world:  w,
		heap:   w.Heap,
		pins:   pinning.NewStats(),
		cement: pinning.NewCement(cfg.Cementing, cfg.CementThreshold),
		out:    os.Stderr,
	}
	c.pins.Enable()
	c.workers = workers.New(workers.Config{
		Threads:            threads,
		StealableStackSize: cfg.StealableStackSize,
		SplitCount:         cfg.SplitCount,
		Scratch:            func(int) any { return new(workerScratch) },
		Verbose:            cfg.Debug.PrintWorkers,
	})
	c.sweeper = newSweeper(w.Heap)
	w.SetCollector(c)
	return c
}

// SetReportOutput sets where debug reports are written. The default is
// standard error.
func (c *Collector) SetReportOutput(w io.Writer) {
	c.mu.Lock()
	c.out = w
	c.mu.Unlock()
}

// Close waits for any background sweep and stops the collector's
// threads.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sweeper.wait()
	c.sweeper.shutdown()
	c.workers.Shutdown()
}

// Collect runs a nursery or major collection. It implements
// mutator.Collector.
func (c *Collector) Collect(major bool) error {
	_, err := c.collect(major)
	return err
}

// CollectNursery runs a nursery collection.
func (c *Collector) CollectNursery() (CycleStats, error) {
	return c.collect(false)
}

// CollectMajor runs a major collection.
func (c *Collector) CollectMajor() (CycleStats, error) {
	return c.collect(true)
}

// History returns the statistics of every collection so far.
func (c *Collector) History() []CycleStats {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]CycleStats(nil), c.history...)
}

// PauseDist returns the distribution of pause times so far.
func (c *Collector) PauseDist() *stats.Dist[time.Duration] {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	d := new(stats.Dist[time.Duration])
	for _, s := range c.history {
		d.Add(s.Pause)
	}
	return d
}

// BackgroundSwept returns the number of objects and bytes freed by
// concurrent sweeps so far.
func (c *Collector) BackgroundSwept() (objects int64, bytes heap.Bytes) {
	return c.sweeper.swept()
}

// Cement returns the collector's cement table.
func (c *Collector) Cement() *pinning.Cement {
	return c.cement
}

// Layout returns the object layout statistics gathered by marking.
func (c *Collector) Layout() *layoutstats.Stats {
	return &c.layout
}

// cycle is the state of one collection.
type cycle struct {
	major bool
	stats CycleStats

	gray     workers.GrayQueue
	pinned   []heap.ObjectID
	promoted []heap.ObjectID
	fwd      map[heap.VAddr]heap.VAddr // Promoted objects' old addresses

	sweepLimit heap.ObjectID
	err        error
}

func (c *Collector) collect(major bool) (CycleStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return CycleStats{}, ErrClosed
	}

	if c.sweeper.pending() {
		// Waiting for the sweep is not part of the pause we measure.
		invivo.Invalidate()
		c.sweeper.wait()
	}

	bench := benchNursery
	if major {
		bench = benchMajor
	}
	start := time.Now()
	c.world.StopTheWorld()
	run := bench.Start()

	cy := &cycle{major: major, fwd: make(map[heap.VAddr]heap.VAddr)}
	cy.stats.Major = major
	gcerr.Guard("gc", func() { c.stopped(cy) })

	metricMarked.Set(run, float64(cy.stats.Marked))
	metricPinned.Set(run, float64(cy.stats.Pinned))
	metricPauseP99.Set(run, float64(run.Elapsed()))
	run.Done()
	c.world.StartTheWorld()
	cy.stats.Pause = time.Since(start)
	if cy.stats.ConcurrentSweep {
		c.sweeper.start(cy.sweepLimit)
	}

	c.histMu.Lock()
	cy.stats.Seq = len(c.history) + 1
	c.history = append(c.history, cy.stats)
	c.histMu.Unlock()
	if traceGC {
		log.Print(cy.stats)
	}
	return cy.stats, cy.err
}

// stopped does the work of a collection while the world is stopped.
func (c *Collector) stopped(cy *cycle) {
	h := c.heap
	h.SetAllocBlack(false)
	h.ResetMarks()
	h.BuildIndex()
	c.pins.Reset()
	c.queue.Reset()
	if cy.major {
		c.cement.Reset()
	}

	r := benchPin.Start()
	c.pinRoots(cy)
	r.Done()

	r = benchMark.Start()
	c.markStatics(cy)
	c.mark(cy)
	r.Done()

	r = benchPromote.Start()
	c.promote(cy)
	c.fixup(cy)
	metricPromoted.Set(r, float64(cy.stats.PromotedBytes), float64(max(cy.stats.Promoted, 1)))
	r.Done()

	r = benchSweep.Start()
	n, b := h.SweepRange(heap.Nursery, 1, h.Limit())
	cy.stats.Swept += n
	cy.stats.SweptBytes += b
	c.rebuildRemset(cy)
	h.ResetNursery()
	c.unpin(cy)
	if !cy.major {
		c.cement.ClearBelowThreshold()
	}
	if cy.major {
		limit := h.Limit()
		if c.cfg.ConcurrentSweep {
			h.SetAllocBlack(true)
			cy.sweepLimit = limit
			cy.stats.ConcurrentSweep = true
		} else {
			n, b := h.SweepRange(heap.Old, 1, limit)
			cy.stats.Swept += n
			cy.stats.SweptBytes += b
		}
	}
	metricSwept.Set(r, float64(cy.stats.Swept))
	r.Done()

	cy.stats.Cemented = c.cement.NumCemented()
	cy.stats.PinnedBytes = c.pins.PinnedByteCounts

	if c.cfg.Debug.VerifyAfterCollect {
		if err := c.verifyLocked(); err != nil {
			gcerr.Throwf("verify after collection: %v", err)
		}
	}
	c.report(cy)
}

func (c *Collector) unpin(cy *cycle) {
	for _, id := range cy.pinned {
		c.heap.Object(id).Pinned = false
	}
}

func (c *Collector) report(cy *cycle) {
	if c.cfg.Debug.PrintPinning {
		fmt.Fprintf(c.out, "pinning, collection %d:", len(c.history)+1)
		c.pins.Report(c.out)
	}
	if c.cfg.Debug.PrintLayout {
		c.layout.Print(c.out)
		fmt.Fprintf(c.out, "%s\n", c.layout.Summary())
	}
}
