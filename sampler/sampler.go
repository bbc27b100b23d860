// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sampler periodically samples the stacks of managed threads to
// find hot methods and asks the JIT to recompile them.
//
// Only methods the JIT reported through RecordJittingInfo are counted.
// Each method is recompiled at most once.
package sampler

import (
	"cmp"
	"fmt"
	"log"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gclab/gcerr"
)

// DefaultInterval is the default time between samples.
const DefaultInterval = 100 * time.Millisecond

// ThreadID identifies a managed thread.
type ThreadID uint64

// MethodID identifies a compiled method.
type MethodID uint64

// DomainID identifies the execution domain a method was compiled in.
type DomainID uint32

// Frame is one frame of a sampled stack.
type Frame struct {
	Method MethodID
	Name   string
}

// Runtime is the sampler's view of the managed runtime.
type Runtime interface {
	// Threads returns the threads that may be sampled.
	Threads() []ThreadID
	// WalkStack calls fn for each frame of tid's stack, innermost
	// first, until fn returns false. It fails if the thread cannot be
	// walked, for example because it has exited.
	WalkStack(tid ThreadID, fn func(Frame) bool) error
}

// Jitter recompiles methods.
type Jitter interface {
	JitAndCollectTrace(method MethodID, domain DomainID) error
}

// JitFlags describes a compilation.
type JitFlags uint32

const (
	// FlagSamplerRecompile marks compilations requested by the sampler
	// itself.
	FlagSamplerRecompile JitFlags = 1 << iota
)

// CountInfo holds the sample count of one method.
type CountInfo struct {
	Domain DomainID
	Count  uint32
	Jitted bool // The sampler has requested a recompile
}

// Options configure a Sampler.
type Options struct {
	Interval   time.Duration // Zero means DefaultInterval
	After      time.Duration // Delay before the first sample
	NumMethods int           // Methods recompiled per round; zero means 10
	Threshold  int           // Minimum count for a recompile; zero means 1
	Verbose    bool
}

// Sampler is a stack sampler.
type Sampler struct {
	rt   Runtime
	jit  Jitter
	opts Options

	mu     sync.Mutex // Guards the fields below
	counts map[MethodID]*CountInfo
	names  map[MethodID]string
	stacks map[string]*stackCount
	next   int

	samples  atomic.Int64
	failures atomic.Int64

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

type stackCount struct {
	frames []Frame
	n      int64
}

// New returns a sampler. It does not start sampling until Init.
func New(rt Runtime, jit Jitter, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NumMethods <= 0 {
		opts.NumMethods = 10
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 1
	}
	return &Sampler{
		rt:     rt,
		jit:    jit,
		opts:   opts,
		counts: make(map[MethodID]*CountInfo),
		names:  make(map[MethodID]string),
		stacks: make(map[string]*stackCount),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Init starts the sampling goroutine. Calls after the first do nothing.
func (s *Sampler) Init() {
	s.once.Do(func() {
		go s.threadProc()
	})
}

// Stop stops the sampling goroutine and waits for it to exit. It must
// only be called after Init.
func (s *Sampler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

func (s *Sampler) threadProc() {
	defer close(s.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gcerr.Guard("stack sampler", func() {
		if s.opts.After > 0 {
			select {
			case <-time.After(s.opts.After):
			case <-s.stop:
				return
			}
		}
		tick := time.NewTicker(s.opts.Interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
			case <-s.stop:
				return
			}
			if s.SampleOnce() {
				s.JitFrequentMethodsInSamples()
			}
		}
	})
}

// RecordJittingInfo records that method was compiled in domain. The
// method's count is reset. Recompilations requested by the sampler are
// ignored.
func (s *Sampler) RecordJittingInfo(method MethodID, domain DomainID, flags JitFlags) {
	if flags&FlagSamplerRecompile != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[method] = &CountInfo{Domain: domain}
}

// SampleOnce samples the next thread in round-robin order. It reports
// whether the sample completed a round over all threads. A thread that
// cannot be walked is skipped.
func (s *Sampler) SampleOnce() bool {
	threads := s.rt.Threads()
	if len(threads) == 0 {
		return false
	}
	s.mu.Lock()
	i := s.next % len(threads)
	s.next = i + 1
	s.mu.Unlock()

	var frames []Frame
	err := s.rt.WalkStack(threads[i], func(f Frame) bool {
		frames = append(frames, f)
		return true
	})
	if err != nil {
		s.failures.Add(1)
		if s.opts.Verbose {
			log.Printf("sampler: %v", gcerr.Recoverablef("walk", "thread %d: %v", threads[i], err))
		}
		return i == len(threads)-1
	}
	s.samples.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[MethodID]bool, len(frames))
	for _, f := range frames {
		if f.Name != "" {
			s.names[f.Method] = f.Name
		}
		// A recursive method counts once per sample.
		if seen[f.Method] {
			continue
		}
		seen[f.Method] = true
		if ci := s.counts[f.Method]; ci != nil {
			ci.Count++
		}
	}
	key := stackKey(frames)
	sc := s.stacks[key]
	if sc == nil {
		sc = &stackCount{frames: frames}
		s.stacks[key] = sc
	}
	sc.n++
	return i == len(threads)-1
}

func stackKey(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&b, "%x,", uint64(f.Method))
	}
	return b.String()
}

// JitFrequentMethodsInSamples asks the JIT to recompile the most
// frequently sampled methods that have not been recompiled yet. It
// returns the methods it recompiled.
func (s *Sampler) JitFrequentMethodsInSamples() []MethodID {
	type cand struct {
		m  MethodID
		ci CountInfo
	}
	s.mu.Lock()
	var cands []cand
	for m, ci := range s.counts {
		if !ci.Jitted && int(ci.Count) >= s.opts.Threshold {
			cands = append(cands, cand{m, *ci})
		}
	}
	slices.SortFunc(cands, func(a, b cand) int {
		if c := cmp.Compare(b.ci.Count, a.ci.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.m, b.m)
	})
	if len(cands) > s.opts.NumMethods {
		cands = cands[:s.opts.NumMethods]
	}
	for _, c := range cands {
		s.counts[c.m].Jitted = true
	}
	s.mu.Unlock()

	var jitted []MethodID
	for _, c := range cands {
		if err := s.jit.JitAndCollectTrace(c.m, c.ci.Domain); err != nil {
			s.failures.Add(1)
			if s.opts.Verbose {
				log.Printf("sampler: recompiling %s: %v", s.name(c.m), err)
			}
			continue
		}
		jitted = append(jitted, c.m)
	}
	return jitted
}

func (s *Sampler) name(m MethodID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.names[m]; ok {
		return n
	}
	return fmt.Sprintf("method %#x", uint64(m))
}

// CountInfo returns a copy of method's counts.
func (s *Sampler) CountInfo(method MethodID) (CountInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci := s.counts[method]
	if ci == nil {
		return CountInfo{}, false
	}
	return *ci, true
}

// Samples returns the number of successful samples.
func (s *Sampler) Samples() int64 {
	return s.samples.Load()
}

// Failures returns the number of failed samples and recompiles.
func (s *Sampler) Failures() int64 {
	return s.failures.Load()
}
