// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats collects distributions of measurements, such as pause
// times, and renders them as gnuplot scripts.
package stats

import (
	"fmt"
	"slices"
	"time"

	mstats "github.com/aclements/go-moremath/stats"
)

// Number is the set of types a Dist can hold.
type Number interface {
	~int | ~int64 | ~uint64 | ~float64
}

// Dist is a distribution of values. The zero value is empty and ready to
// use. Dist is not safe for concurrent use.
type Dist[T Number] struct {
	vals   []T
	sorted bool
}

// Add adds val to d.
func (d *Dist[T]) Add(val T) {
	d.vals = append(d.vals, val)
	d.sorted = false
}

// Len returns the number of values in d.
func (d *Dist[T]) Len() int {
	return len(d.vals)
}

// Values returns the values of d in increasing order.
func (d *Dist[T]) Values() []T {
	d.sort()
	return d.vals
}

func (d *Dist[T]) sort() {
	if !d.sorted {
		slices.Sort(d.vals)
		d.sorted = true
	}
}

func (d *Dist[T]) sample() mstats.Sample {
	d.sort()
	xs := make([]float64, len(d.vals))
	for i, v := range d.vals {
		xs[i] = float64(v)
	}
	return mstats.Sample{Xs: xs, Sorted: true}
}

// Quantiles returns the value at each quantile in qs, which must be in
// [0, 1]. Values between samples are interpolated. d must not be empty.
func (d *Dist[T]) Quantiles(qs ...float64) []T {
	if len(d.vals) == 0 {
		panic("stats: quantiles of empty distribution")
	}
	s := d.sample()
	out := make([]T, len(qs))
	for i, q := range qs {
		out[i] = T(s.Quantile(q))
	}
	return out
}

// Mean returns the mean of d.
func (d *Dist[T]) Mean() float64 {
	return d.sample().Mean()
}

// String summarizes d by its count, extremes, and a few quantiles.
func (d *Dist[T]) String() string {
	if len(d.vals) == 0 {
		return "n=0"
	}
	q := d.Quantiles(0, 0.5, 0.95, 0.99, 1)
	fmtVal := func(v T) string {
		if dur, ok := any(v).(time.Duration); ok {
			return dur.String()
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("n=%d min=%s p50=%s p95=%s p99=%s max=%s",
		len(d.vals), fmtVal(q[0]), fmtVal(q[1]), fmtVal(q[2]), fmtVal(q[3]), fmtVal(q[4]))
}
