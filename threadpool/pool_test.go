// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"gclab/gcerr"
)

func TestJobsRunOnce(t *testing.T) {
	var inits atomic.Int32
	p := New(4, Options{Init: func(any) { inits.Add(1) }})
	defer p.Shutdown()
	if inits.Load() != 4 {
		t.Fatalf("%d threads initialized, want 4", inits.Load())
	}

	var counter atomic.Int64
	var jobs []*Job
	for i := range 100 {
		j := NewJob("inc", func(_ any, j *Job) {
			counter.Add(1)
		}, i)
		jobs = append(jobs, j)
		p.Enqueue(j)
	}
	p.WaitForAllJobs()
	if counter.Load() != 100 {
		t.Fatalf("counter = %d, want 100", counter.Load())
	}
	for _, j := range jobs {
		if j.State() != Done {
			t.Fatalf("job %v in state %s", j.Payload, j.State())
		}
	}
}

func TestWaitObservesJobEffects(t *testing.T) {
	p := New(2, Options{})
	defer p.Shutdown()
	for range 50 {
		var x int // Written by the job, read after Wait without atomics.
		j := NewJob("write", func(any, *Job) { x = 42 }, nil)
		p.Enqueue(j)
		p.Wait(j)
		if x != 42 {
			t.Fatalf("Wait returned before the job's write was visible")
		}
	}
}

func TestZeroThreads(t *testing.T) {
	p := New(0, Options{})
	ran := false
	j := NewJob("sync", func(data any, _ *Job) {
		if data != nil {
			t.Errorf("thread data %v with no threads", data)
		}
		ran = true
	}, nil)
	p.Enqueue(j)
	if !ran || j.State() != Done {
		t.Fatalf("job did not run synchronously: ran=%v state=%s", ran, j.State())
	}
	// None of these may block.
	p.Wait(j)
	p.WaitForAllJobs()
	p.IdleWait()
	p.Shutdown()
	if p.IsPoolThread() {
		t.Fatal("caller reported as pool thread")
	}
}

func TestThreadData(t *testing.T) {
	data := []any{0, 1, 2}
	var mu sync.Mutex
	seen := make(map[int]bool)
	p := New(3, Options{
		ThreadData: data,
		Init: func(d any) {
			mu.Lock()
			seen[d.(int)] = true
			mu.Unlock()
		},
	})
	defer p.Shutdown()
	if len(seen) != 3 {
		t.Fatalf("thread data seen by Init: %v", seen)
	}
}

func TestIsPoolThread(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("thread identity requires thread IDs")
	}
	p := New(2, Options{})
	defer p.Shutdown()
	if p.IsPoolThread() {
		t.Fatal("test goroutine reported as pool thread")
	}
	var inPool bool
	j := NewJob("check", func(any, *Job) { inPool = p.IsPoolThread() }, nil)
	p.Enqueue(j)
	p.Wait(j)
	if !inPool {
		t.Fatal("job did not run on a pool thread")
	}
}

func TestIdle(t *testing.T) {
	var mu sync.Mutex
	remaining := 0
	var ran atomic.Int32
	p := New(3, Options{
		Idle: func(any) {
			mu.Lock()
			if remaining > 0 {
				remaining--
				ran.Add(1)
			}
			mu.Unlock()
		},
		ContinueIdle: func(any) bool {
			mu.Lock()
			defer mu.Unlock()
			return remaining > 0
		},
	})
	defer p.Shutdown()

	for round := range 3 {
		mu.Lock()
		remaining = 100
		mu.Unlock()
		ran.Store(0)
		p.IdleSignal()
		p.IdleWait()
		if ran.Load() != 100 {
			t.Fatalf("round %d: idle job made %d steps, want 100", round, ran.Load())
		}
	}
}

func TestIdleZeroThreads(t *testing.T) {
	remaining := 10
	p := New(0, Options{
		Idle:         func(any) { remaining-- },
		ContinueIdle: func(any) bool { return remaining > 0 },
	})
	p.IdleSignal()
	if remaining != 0 {
		t.Fatalf("%d idle steps left after IdleSignal", remaining)
	}
}

func TestShouldWork(t *testing.T) {
	var active atomic.Int32
	active.Store(1)
	var ranOn sync.Map
	p := New(4, Options{
		ThreadData: []any{0, 1, 2, 3},
		ShouldWork: func(d any) bool { return int32(d.(int)) < active.Load() },
	})
	defer p.Shutdown()
	for range 20 {
		p.Enqueue(NewJob("w", func(d any, _ *Job) { ranOn.Store(d, true) }, nil))
	}
	p.WaitForAllJobs()
	ranOn.Range(func(k, _ any) bool {
		if k.(int) != 0 {
			t.Errorf("job ran on inactive thread %v", k)
		}
		return true
	})
}

func TestJobPanicIsFatal(t *testing.T) {
	fatal := make(chan *gcerr.Error, 1)
	old := gcerr.SetFatalHandler(func(err *gcerr.Error) { fatal <- err })
	defer gcerr.SetFatalHandler(old)

	p := New(1, Options{})
	defer p.Shutdown()
	j := NewJob("boom", func(any, *Job) { panic("boom") }, nil)
	p.Enqueue(j)
	p.Wait(j)
	err := <-fatal
	if err.Kind != gcerr.Fatal || err.Op != "job boom" {
		t.Fatalf("got %v", err)
	}
}

func TestEnqueueTwiceIsFatal(t *testing.T) {
	var fatal *gcerr.Error
	old := gcerr.SetFatalHandler(func(err *gcerr.Error) { fatal = err })
	defer gcerr.SetFatalHandler(old)

	p := New(0, Options{})
	j := NewJob("once", func(any, *Job) {}, nil)
	p.Enqueue(j)
	gcerr.Guard("test", func() { p.Enqueue(j) })
	if fatal == nil {
		t.Fatal("second Enqueue was not fatal")
	}
}
