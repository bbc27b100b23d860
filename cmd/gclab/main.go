// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Gclab runs a synthetic multi-threaded workload against the simulated
// generational collector and reports what the collector did.
//
// Usage:
//
//	gclab [flags]
//
// Collector parameters come from the GCLAB_PARAMS and GCLAB_DEBUG
// environment variables, for example
//
//	GCLAB_PARAMS=nursery-size=1m,major=marksweep-conc,workers=4
//	GCLAB_DEBUG=print-pinning,print-bench,verify-after-collect
//
// With -dump, gclab writes a snapshot of the final heap that dacwalk can
// read. With -profile, it writes the stack sampler's profile in pprof
// format. With -plot, it writes a gnuplot script of the pause
// distribution.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gclab/config"
	"gclab/dac"
	"gclab/gc"
	"gclab/gcenv"
	"gclab/heap"
	"gclab/invivo"
	"gclab/mutator"
	"gclab/sampler"
)

var (
	flagThreads = flag.Int("threads", 4, "run `n` mutator threads")
	flagOps     = flag.Int("ops", 2000, "run `n` workload steps per thread")
	flagSeed    = flag.Uint64("seed", 1, "random `seed`")
	flagMajor   = flag.Duration("major-every", 0, "force a major collection every `interval` (0 disables)")
	flagDump    = flag.String("dump", "", "write a heap dump to `file` when done")
	flagProfile = flag.String("profile", "", "write the stack sampler profile to `file`")
	flagPlot    = flag.String("plot", "", "write a gnuplot script of pause times to `file`")
	flagVerbose = flag.Bool("v", false, "log collections")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("gclab: ")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: gclab [flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	if *flagVerbose {
		info := gcenv.GetSystemInfo()
		log.Printf("%d processors, page size %d", info.NumberOfProcessors, info.PageSize)
		if ms, err := gcenv.GetMemoryStatus(); err == nil {
			log.Printf("memory: %s", ms)
		}
	}

	h := heap.New(heap.Config{NurseryBytes: cfg.NurseryBytes, MaxHeapBytes: cfg.MaxHeapBytes})
	w := mutator.NewWorld(h)
	c := gc.New(cfg, w)
	defer c.Close()

	j := &jit{verbose: *flagVerbose}
	s := sampler.New(w, j, sampler.Options{
		Interval:   cfg.Debug.SamplerInterval,
		After:      cfg.Debug.SamplerAfter,
		NumMethods: cfg.Debug.SamplerMethods,
		Threshold:  cfg.Debug.SamplerThreshold,
		Verbose:    *flagVerbose,
	})
	j.s = s
	for m := range mutator.MethodNames {
		s.RecordJittingInfo(m, 1, 0)
	}
	s.Init()

	start := time.Now()
	err := run(c, w, cfg)
	elapsed := time.Since(start)
	s.Stop()
	if err != nil {
		log.Fatal(err)
	}

	summarize(c, h, elapsed)
	log.Printf("sampler: %d samples, %d failures, %d methods recompiled", s.Samples(), s.Failures(), j.n.Load())
	if cfg.Debug.PrintBench {
		invivo.Report(os.Stdout)
	}

	if *flagPlot != "" {
		if d := c.PauseDist(); d.Len() > 0 {
			writeFile(*flagPlot, func(f *os.File) error {
				d.Plot(f, *flagPlot+".png", "pause", "cumulative fraction of collections", 10)
				return nil
			})
		}
	}
	if *flagProfile != "" {
		writeFile(*flagProfile, func(f *os.File) error {
			return s.Profile().Write(f)
		})
	}
	if *flagDump != "" {
		img, err := c.Snapshot()
		if err != nil {
			log.Fatalf("snapshot: %v", err)
		}
		writeFile(*flagDump, func(f *os.File) error {
			return dac.WriteDump(f, img)
		})
	}
}

// run runs the workload on *flagThreads threads and returns the first
// error any of them hit.
func run(c *gc.Collector, w *mutator.World, cfg config.Config) error {
	wl := mutator.DefaultWorkload()
	var (
		wg   sync.WaitGroup
		errs = make([]error, *flagThreads)
	)
	for i := range *flagThreads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := w.NewThread()
			defer t.Exit()
			rng := rand.New(rand.NewPCG(*flagSeed, uint64(i)))
			errs[i] = wl.Run(t, rng, *flagOps)
		}()
	}

	done := make(chan struct{})
	var bg sync.WaitGroup
	if *flagMajor > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			tick := time.NewTicker(*flagMajor)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
				case <-done:
					return
				}
				if _, err := c.CollectMajor(); err != nil {
					log.Printf("major collection: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	bg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if cfg.Debug.VerifyAfterCollect {
		return c.Verify()
	}
	return nil
}

func summarize(c *gc.Collector, h *heap.Heap, elapsed time.Duration) {
	var minor, major int
	for _, cs := range c.History() {
		if cs.Major {
			major++
		} else {
			minor++
		}
		if *flagVerbose {
			log.Print(cs)
		}
	}
	st := h.Stats()
	log.Printf("%d nursery and %d major collections in %s", minor, major, elapsed)
	log.Printf("heap: nursery %d objects, %d bytes; old %d objects, %d bytes",
		st.Objects[heap.Nursery], st.Bytes[heap.Nursery], st.Objects[heap.Old], st.Bytes[heap.Old])
	if d := c.PauseDist(); d.Len() > 0 {
		q := d.Quantiles(0.5, 0.99, 1)
		log.Printf("pause: p50 %s, p99 %s, max %s", q[0], q[1], q[2])
	}
	if n, b := c.BackgroundSwept(); n > 0 {
		log.Printf("background sweep freed %d objects, %d bytes", n, b)
	}
	if n := c.Cement().NumCemented(); n > 0 {
		log.Printf("%d objects cemented", n)
	}
}

func writeFile(path string, write func(f *os.File) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	if err := write(f); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
}

// jit stands in for the JIT. Recompiling a workload method only counts
// the request and reports the new compilation back to the sampler.
type jit struct {
	s       *sampler.Sampler
	verbose bool
	n       atomic.Int64
}

func (j *jit) JitAndCollectTrace(m sampler.MethodID, d sampler.DomainID) error {
	name, ok := mutator.MethodNames[m]
	if !ok {
		return fmt.Errorf("unknown method %#x", uint64(m))
	}
	j.n.Add(1)
	if j.verbose {
		log.Printf("recompiling %s in domain %d", name, d)
	}
	j.s.RecordJittingInfo(m, d, sampler.FlagSamplerRecompile)
	return nil
}
