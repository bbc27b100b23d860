// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Plot writes a gnuplot script to w that renders the cumulative
// distribution of d to pngPath, labeling the axes x and y. If logBase is
// non-zero, the X axis is logarithmic with that base, which must be at
// least 2. d must not be empty.
func (d *Dist[T]) Plot(w io.Writer, pngPath, x, y string, logBase int) {
	if logBase < 0 || logBase == 1 {
		panic(fmt.Sprintf("stats: bad log base %d", logBase))
	}
	vals := d.Values()

	fmt.Fprintf(w, "set terminal pngcairo\n")
	fmt.Fprintf(w, "set output %q\n", pngPath)

	fmt.Fprintf(w, "set xlabel %q\n", x)

	fmt.Fprintf(w, "set ylabel %q\n", y)
	fmt.Fprintf(w, "set yrange [0:%d]\n", len(vals))
	fmt.Fprintf(w, "set ytics nomirror\n")
	fmt.Fprintf(w, "set ytics add (\"n=%d\" %d)\n", len(vals), len(vals))

	fmt.Fprintf(w, "set y2label %q\n", "quantile")
	fmt.Fprintf(w, "set y2range [0:1]\n")
	fmt.Fprintf(w, "set y2tics nomirror\n")

	fmtVal := func(val T) string { return fmt.Sprint(val) }

	// Trim outliers that would squash the rest of the plot.
	mid := d.Quantiles(0, 0.01, 0.99, 1)
	lo, hi := mid[0], mid[3]
	if float64(lo) < 1.5*float64(mid[1])-0.5*float64(mid[2]) {
		lo = mid[1]
	}
	if float64(hi) > 1.5*float64(mid[2])-0.5*float64(mid[1]) {
		hi = mid[2]
	}
	if lo == hi {
		lo -= 1
		hi += 1
	}

	if logBase != 0 {
		fmt.Fprintf(w, "set log x %d\n", logBase)
		if lo <= 0 {
			// Start at the smallest positive value.
			for _, val := range vals {
				if val > 0 {
					lo = val
					break
				}
			}
		}
	}

	// Format duration tick marks.
	if lo, ok := any(lo).(time.Duration); ok {
		hi := any(hi).(time.Duration)
		var tics []string
		for _, tic := range durationTicks(lo, hi, logBase) {
			tics = append(tics, fmt.Sprintf("%q %d %d", tic.label, tic.pos, tic.level))
		}
		fmt.Fprintf(w, "set xtics (%s)\n", strings.Join(tics, ","))
	}

	fmt.Fprintf(w, "set xrange [%v:%v]\n", float64(lo), float64(hi))

	fmt.Fprintf(w, "set label %q at graph 0,0 offset 0,char -1.75\n", "min "+fmtVal(vals[0]))
	fmt.Fprintf(w, "set label %q at graph 1,0 right offset 0,char -1.75\n", "max "+fmtVal(vals[len(vals)-1]))

	fmt.Fprintf(w, "plot '-' notitle with steps, ")
	fmt.Fprintf(w, "'-' notitle axes x1y2 with labels left offset char 0.2,char -0.25 point ps 2,")
	fmt.Fprintf(w, "'-' notitle axes x1y2 with labels right offset char -1.2,char -0.25 point ps 2\n")
	for i, val := range vals {
		fmt.Fprintf(w, "%v %d\n", float64(val), i)
	}
	fmt.Fprintf(w, "e\n")

	// Mark quantiles, labeled on whichever side has room.
	qs := []float64{0.05, 0.25, 0.5, 0.75, 0.95}
	qvs := d.Quantiles(qs...)
	for i, val := range qvs {
		if val <= (lo+hi)/2 {
			fmt.Fprintf(w, "%v %g %s\n", float64(val), qs[i], fmtVal(val))
		}
	}
	fmt.Fprintf(w, "e\n")
	for i, val := range qvs {
		if val > (lo+hi)/2 {
			fmt.Fprintf(w, "%v %g %s\n", float64(val), qs[i], fmtVal(val))
		}
	}
	fmt.Fprintf(w, "e\n")

	fmt.Fprintf(w, "unset output\n")
	fmt.Fprintf(w, "reset\n")
}

type durationTick struct {
	label string
	pos   time.Duration
	level int
}

func durationTicks(lo, hi time.Duration, logBase int) []durationTick {
	var out []durationTick
	add := func(d time.Duration, level int) { out = append(out, durationTick{d.String(), d, level}) }

	if logBase != 0 {
		for _, d := range makeDurationLevels(logBase) {
			if d >= lo && d <= hi {
				add(d, 0)
			}
		}
		return out
	}

	const maxTicks = 8
	for level := range durationLevels {
		tlo, step, n := ticksAt(lo, hi, level)
		if n > maxTicks {
			continue
		}
		// We found our major ticks. Minor ticks are one level down.
		minStep := step
		if level > 0 {
			_, minStep, _ = ticksAt(lo, hi, level-1)
		}
		// Start one below tlo just to produce the right minors.
		for major := -1; major < n; major++ {
			pos := tlo + step*time.Duration(major)
			if major >= 0 {
				add(pos, 0)
			}
			for minor := 1; ; minor++ {
				minPos := pos + minStep*time.Duration(minor)
				if minPos >= pos+step {
					break
				}
				if minPos >= lo && minPos <= hi {
					add(minPos, 1)
				}
			}
		}
		break
	}
	return out
}

func makeDurationLevels(factors ...int) []time.Duration {
	var out []time.Duration

	fi := 0
	next := func() time.Duration {
		factor := time.Duration(factors[fi%len(factors)])
		fi++
		return factor
	}

	d := time.Nanosecond
	for d < time.Minute {
		out = append(out, d)
		d *= next()
	}
	d, fi = time.Minute, 0
	for d < time.Hour {
		out = append(out, d)
		d *= next()
	}
	d, fi = time.Hour, 0
	for d <= 100000*time.Hour {
		out = append(out, d)
		d *= next()
	}
	return out
}

var durationLevels = makeDurationLevels(5, 2)

func ticksAt(lo, hi time.Duration, level int) (start, step time.Duration, n int) {
	step = durationLevels[level]
	// Round lo up to a multiple of step.
	start = ((lo + step - 1) / step) * step
	// Round hi down to a multiple of step.
	stop := (hi / step) * step
	n = 1 + int((stop-start)/step)
	return
}
