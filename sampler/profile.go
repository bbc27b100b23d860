// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"cmp"
	"slices"

	"github.com/google/pprof/profile"
)

// Profile returns the sampled stacks as a profile. Each sample is one
// distinct stack with the number of times it was seen.
func (s *Sampler) Profile() *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     s.opts.Interval.Nanoseconds(),
	}
	locs := make(map[MethodID]*profile.Location)
	location := func(m MethodID) *profile.Location {
		if l := locs[m]; l != nil {
			return l
		}
		name, ok := s.names[m]
		if !ok {
			name = "?"
		}
		fn := &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       name,
			SystemName: name,
		}
		p.Function = append(p.Function, fn)
		l := &profile.Location{
			ID:      uint64(len(p.Location) + 1),
			Address: uint64(m),
			Line:    []profile.Line{{Function: fn}},
		}
		locs[m] = l
		p.Location = append(p.Location, l)
		return l
	}

	// Emit stacks in a deterministic order.
	keys := make([]string, 0, len(s.stacks))
	for k := range s.stacks {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(s.stacks[b].n, s.stacks[a].n); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	for _, k := range keys {
		sc := s.stacks[k]
		sample := &profile.Sample{Value: []int64{sc.n}}
		for _, f := range sc.frames {
			sample.Location = append(sample.Location, location(f.Method))
		}
		p.Sample = append(p.Sample, sample)
	}
	return p
}
