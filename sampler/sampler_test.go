// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/pprof/profile"
)

type fakeRuntime struct {
	mu     sync.Mutex
	stacks map[ThreadID][]Frame
	walks  []ThreadID
}

func (r *fakeRuntime) Threads() []ThreadID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ts []ThreadID
	for t := range r.stacks {
		ts = append(ts, t)
	}
	slices.Sort(ts)
	return ts
}

func (r *fakeRuntime) WalkStack(tid ThreadID, fn func(Frame) bool) error {
	r.mu.Lock()
	r.walks = append(r.walks, tid)
	frames, ok := r.stacks[tid]
	r.mu.Unlock()
	if !ok || frames == nil {
		return errors.New("thread exited")
	}
	for _, f := range frames {
		if !fn(f) {
			break
		}
	}
	return nil
}

type fakeJitter struct {
	mu     sync.Mutex
	jitted []MethodID
	fail   map[MethodID]bool
}

func (j *fakeJitter) JitAndCollectTrace(m MethodID, d DomainID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail[m] {
		return errors.New("jit failed")
	}
	j.jitted = append(j.jitted, m)
	return nil
}

func frames(ms ...MethodID) []Frame {
	var fs []Frame
	for _, m := range ms {
		fs = append(fs, Frame{Method: m, Name: string(rune('A' + m - 1))})
	}
	return fs
}

func TestSampleCountsRecordedMethods(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{
		1: frames(1, 2, 3),
		2: frames(2, 2, 4),
	}}
	s := New(rt, &fakeJitter{}, Options{})
	s.RecordJittingInfo(2, 7, 0)
	s.RecordJittingInfo(3, 7, 0)

	if s.SampleOnce() {
		t.Fatal("first sample completed a round")
	}
	if !s.SampleOnce() {
		t.Fatal("second sample did not complete a round")
	}
	if got := rt.walks; !slices.Equal(got, []ThreadID{1, 2}) {
		t.Fatalf("walked %v, want round-robin [1 2]", got)
	}
	for _, tc := range []struct {
		m     MethodID
		count uint32
		ok    bool
	}{
		{1, 0, false}, // never recorded
		{2, 2, true},  // once per sample, even when recursive
		{3, 1, true},
		{4, 0, false},
	} {
		ci, ok := s.CountInfo(tc.m)
		if ok != tc.ok || ci.Count != tc.count {
			t.Errorf("method %d: count %d ok %v, want %d %v", tc.m, ci.Count, ok, tc.count, tc.ok)
		}
	}
	if ci, _ := s.CountInfo(2); ci.Domain != 7 {
		t.Errorf("domain %d, want 7", ci.Domain)
	}
}

func TestRecordResetsAndIgnoresRecompiles(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{1: frames(1)}}
	s := New(rt, &fakeJitter{}, Options{})
	s.RecordJittingInfo(1, 0, 0)
	s.SampleOnce()
	s.SampleOnce()
	s.RecordJittingInfo(1, 0, FlagSamplerRecompile)
	if ci, _ := s.CountInfo(1); ci.Count != 2 {
		t.Fatalf("sampler recompile reset the count to %d", ci.Count)
	}
	s.RecordJittingInfo(1, 0, 0)
	if ci, _ := s.CountInfo(1); ci.Count != 0 {
		t.Fatalf("count %d after recompile, want 0", ci.Count)
	}
}

func TestWalkFailureSkipped(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{1: nil, 2: frames(1)}}
	s := New(rt, &fakeJitter{}, Options{})
	s.RecordJittingInfo(1, 0, 0)
	s.SampleOnce()
	s.SampleOnce()
	if s.Samples() != 1 || s.Failures() != 1 {
		t.Fatalf("samples %d failures %d, want 1 1", s.Samples(), s.Failures())
	}
	if ci, _ := s.CountInfo(1); ci.Count != 1 {
		t.Fatalf("count %d, want 1", ci.Count)
	}
}

func TestJitFrequentMethods(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{
		1: frames(1, 2),
		2: frames(1, 3),
		3: frames(1, 2, 4),
	}}
	jit := &fakeJitter{fail: map[MethodID]bool{4: true}}
	s := New(rt, jit, Options{NumMethods: 2, Threshold: 2})
	for m := MethodID(1); m <= 4; m++ {
		s.RecordJittingInfo(m, 0, 0)
	}
	for range 6 {
		s.SampleOnce()
	}
	// Counts: 1:6 2:4 3:2 4:2.
	got := s.JitFrequentMethodsInSamples()
	if want := []MethodID{1, 2}; !slices.Equal(got, want) {
		t.Fatalf("first round jitted %v, want %v", got, want)
	}
	got = s.JitFrequentMethodsInSamples()
	if want := []MethodID{3}; !slices.Equal(got, want) {
		t.Fatalf("second round jitted %v, want %v", got, want)
	}
	if s.Failures() != 1 {
		t.Fatalf("failures %d, want 1", s.Failures())
	}
	// Each method is requested at most once.
	if got := s.JitFrequentMethodsInSamples(); len(got) != 0 {
		t.Fatalf("third round jitted %v", got)
	}
	if want := []MethodID{1, 2, 3}; !slices.Equal(jit.jitted, want) {
		t.Fatalf("jitter saw %v, want %v", jit.jitted, want)
	}
	for m := MethodID(1); m <= 4; m++ {
		if ci, _ := s.CountInfo(m); !ci.Jitted {
			t.Errorf("method %d not marked jitted", m)
		}
	}
}

func TestBackgroundSampling(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{1: frames(1)}}
	jit := &fakeJitter{}
	s := New(rt, jit, Options{Interval: time.Millisecond})
	s.RecordJittingInfo(1, 0, 0)
	s.Init()
	s.Init()
	deadline := time.Now().Add(10 * time.Second)
	for s.Samples() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Stop()
	if s.Samples() < 5 {
		t.Fatalf("only %d samples", s.Samples())
	}
	jit.mu.Lock()
	defer jit.mu.Unlock()
	if !slices.Equal(jit.jitted, []MethodID{1}) {
		t.Fatalf("jitted %v, want [1]", jit.jitted)
	}
}

func TestProfile(t *testing.T) {
	rt := &fakeRuntime{stacks: map[ThreadID][]Frame{
		1: frames(1, 2),
		2: frames(1, 2),
		3: frames(3),
	}}
	s := New(rt, &fakeJitter{}, Options{Interval: 10 * time.Millisecond})
	for range 3 {
		s.SampleOnce()
	}
	p := s.Profile()
	if err := p.CheckValid(); err != nil {
		t.Fatal(err)
	}
	if len(p.Sample) != 2 || len(p.Function) != 3 {
		t.Fatalf("got %d samples, %d functions", len(p.Sample), len(p.Function))
	}
	if p.Sample[0].Value[0] != 2 || p.Sample[0].Location[0].Line[0].Function.Name != "A" {
		t.Fatalf("hottest sample %v", p.Sample[0])
	}
	if p.Period != (10 * time.Millisecond).Nanoseconds() {
		t.Fatalf("period %d", p.Period)
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		t.Fatal(err)
	}
	q, err := profile.Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Sample) != 2 {
		t.Fatalf("parsed %d samples", len(q.Sample))
	}
}
