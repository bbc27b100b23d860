// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package threadpool runs collector jobs on a fixed set of OS threads.
//
// Besides ordinary jobs, which run once each, a pool has a single idle
// job that threads run whenever they have nothing else to do and the
// ContinueIdle predicate says there is background work left. The idle
// job is how concurrent phases such as background sweeping make
// progress between pauses.
//
// Job functions must not panic. A panic in a job is a fatal error and is
// handed to the gcerr fatal handler.
package threadpool

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"gclab/gcerr"
)

const tracePool = false

// State is the state of a Job.
type State int32

const (
	Created State = iota
	Enqueued
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Enqueued:
		return "enqueued"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// JobFunc is the body of a job. threadData is the ThreadData entry of
// the thread running the job, or nil when the pool has no threads.
type JobFunc func(threadData any, job *Job)

// Job is a unit of work. A Job may be enqueued once.
type Job struct {
	Name    string
	Func    JobFunc
	Payload any

	state atomic.Int32
}

// NewJob returns a job in the Created state.
func NewJob(name string, f JobFunc, payload any) *Job {
	return &Job{Name: name, Func: f, Payload: payload}
}

// State returns j's current state.
func (j *Job) State() State {
	return State(j.state.Load())
}

func (j *Job) setState(from, to State) {
	if !j.state.CompareAndSwap(int32(from), int32(to)) {
		gcerr.Throwf("threadpool: job %q in state %s, expected %s", j.Name, j.State(), from)
	}
}

// Options configures a Pool. All functions are optional.
type Options struct {
	// Init is run once by each thread before it takes any work.
	Init func(threadData any)

	// Idle is the idle job. It is run repeatedly while ContinueIdle
	// returns true.
	Idle func(threadData any)

	// ContinueIdle reports whether the thread owning threadData has
	// idle work left, or with nil whether any thread has. It is called
	// with the pool lock held and must be fast.
	ContinueIdle func(threadData any) bool

	// ShouldWork reports whether the thread owning threadData should
	// take work at all. Threads that should not work sleep until they
	// are woken again.
	ShouldWork func(threadData any) bool

	// ThreadData holds one value per thread. If it is shorter than the
	// number of threads the remaining threads get nil.
	ThreadData []any
}

// Pool is a fixed-size pool of OS threads.
type Pool struct {
	opts Options

	mu       sync.Mutex
	workCond sync.Cond // Signaled when there is work or on shutdown
	doneCond sync.Cond // Signaled when a job finishes or idle work runs out

	// queue holds jobs that are enqueued or running. Jobs leave the
	// queue when they are done.
	queue    []*Job
	shutdown bool

	// threadIDs is the set of OS thread IDs of pool threads.
	threadIDs sync.Map

	wg      sync.WaitGroup
	threads int
}

// New starts a pool of numThreads threads. Each thread locks itself to
// an OS thread and runs opts.Init before looking for work.
//
// A pool with zero threads runs every job synchronously in Enqueue.
func New(numThreads int, opts Options) *Pool {
	p := &Pool{opts: opts, threads: numThreads}
	p.workCond.L = &p.mu
	p.doneCond.L = &p.mu
	started := make(chan struct{}, numThreads)
	for i := range numThreads {
		var data any
		if i < len(opts.ThreadData) {
			data = opts.ThreadData[i]
		}
		p.wg.Add(1)
		go p.threadFunc(data, started)
	}
	for range numThreads {
		<-started
	}
	return p
}

// NumThreads returns the number of threads in the pool.
func (p *Pool) NumThreads() int {
	return p.threads
}

func (p *Pool) continueIdleLocked(data any) bool {
	if p.opts.Idle == nil || p.opts.ContinueIdle == nil || p.shutdown {
		return false
	}
	if !p.shouldWork(data) {
		return false
	}
	return p.opts.ContinueIdle(data)
}

func (p *Pool) shouldWork(data any) bool {
	return p.opts.ShouldWork == nil || p.opts.ShouldWork(data)
}

func (p *Pool) nextJobLocked() *Job {
	for _, j := range p.queue {
		if j.State() == Enqueued {
			j.setState(Enqueued, Running)
			return j
		}
	}
	return nil
}

func (p *Pool) threadFunc(data any, started chan<- struct{}) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid := threadID()
	p.threadIDs.Store(tid, true)
	defer p.threadIDs.Delete(tid)

	if p.opts.Init != nil {
		gcerr.Guard("threadpool init", func() { p.opts.Init(data) })
	}
	started <- struct{}{}

	p.mu.Lock()
	for {
		doIdle := p.continueIdleLocked(data)
		var job *Job
		if p.shouldWork(data) {
			job = p.nextJobLocked()
		}
		if job == nil && !doIdle {
			if p.shutdown {
				p.mu.Unlock()
				return
			}
			p.workCond.Wait()
			continue
		}
		p.mu.Unlock()

		if job != nil {
			if tracePool {
				println("threadpool: run", job.Name)
			}
			p.runJob(data, job)
			p.mu.Lock()
			p.finishLocked(job)
		} else {
			gcerr.Guard("threadpool idle", func() { p.opts.Idle(data) })
			p.mu.Lock()
			if !p.continueIdleLocked(data) {
				// This thread is out of idle work. Waiters in IdleWait
				// recheck whether any thread still has some.
				p.doneCond.Broadcast()
			}
		}
	}
}

func (p *Pool) runJob(data any, job *Job) {
	gcerr.Guard("job "+job.Name, func() { job.Func(data, job) })
}

func (p *Pool) finishLocked(job *Job) {
	job.setState(Running, Done)
	i := slices.Index(p.queue, job)
	p.queue = slices.Delete(p.queue, i, i+1)
	p.doneCond.Broadcast()
}

// Enqueue submits job. With no threads, it runs job before returning.
func (p *Pool) Enqueue(job *Job) {
	job.setState(Created, Enqueued)
	if p.threads == 0 {
		job.setState(Enqueued, Running)
		p.runJob(nil, job)
		job.setState(Running, Done)
		return
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		gcerr.Throwf("threadpool: enqueue of %q after shutdown", job.Name)
	}
	p.queue = append(p.queue, job)
	// Broadcast rather than Signal: the woken thread may not be one
	// that ShouldWork.
	p.workCond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) checkNotPoolThread(op string) {
	if p.IsPoolThread() {
		gcerr.Throwf("threadpool: %s called from a pool thread", op)
	}
}

// Wait blocks until job is done. It must not be called from a pool
// thread.
func (p *Pool) Wait(job *Job) {
	p.checkNotPoolThread("Wait")
	p.mu.Lock()
	defer p.mu.Unlock()
	for job.State() != Done {
		if job.State() == Created {
			gcerr.Throwf("threadpool: waiting for job %q that was never enqueued", job.Name)
		}
		p.doneCond.Wait()
	}
}

// WaitForAllJobs blocks until every enqueued job is done.
func (p *Pool) WaitForAllJobs() {
	p.checkNotPoolThread("WaitForAllJobs")
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 {
		p.doneCond.Wait()
	}
}

// IdleSignal wakes the pool's threads if there is idle work. With no
// threads, it runs the idle job to completion on the caller.
func (p *Pool) IdleSignal() {
	if p.opts.Idle == nil || p.opts.ContinueIdle == nil {
		return
	}
	if p.threads == 0 {
		for p.opts.ContinueIdle(nil) {
			gcerr.Guard("threadpool idle", func() { p.opts.Idle(nil) })
		}
		return
	}
	p.mu.Lock()
	if p.opts.ContinueIdle(nil) {
		p.workCond.Broadcast()
	}
	p.mu.Unlock()
}

// IdleWait blocks until ContinueIdle returns false.
func (p *Pool) IdleWait() {
	if p.opts.Idle == nil || p.opts.ContinueIdle == nil {
		return
	}
	p.checkNotPoolThread("IdleWait")
	if p.threads == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.shutdown && p.opts.ContinueIdle(nil) {
		p.doneCond.Wait()
	}
}

// Wake wakes all threads so they re-evaluate ShouldWork and
// ContinueIdle.
func (p *Pool) Wake() {
	p.mu.Lock()
	p.workCond.Broadcast()
	p.mu.Unlock()
}

// IsPoolThread reports whether the caller is running on one of p's
// threads.
func (p *Pool) IsPoolThread() bool {
	if p.threads == 0 {
		return false
	}
	tid := threadID()
	if tid < 0 {
		return false
	}
	_, ok := p.threadIDs.Load(tid)
	return ok
}

// Shutdown waits for outstanding jobs, stops all threads and waits for
// them to exit. Idle work still pending is abandoned.
func (p *Pool) Shutdown() {
	p.WaitForAllJobs()
	p.mu.Lock()
	p.shutdown = true
	p.workCond.Broadcast()
	p.doneCond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
