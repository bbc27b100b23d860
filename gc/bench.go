// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import "gclab/invivo"

// In-vivo benchmarks of collector phases, reported by invivo.Report.
var (
	benchNursery = invivo.NewBenchmark("GCNursery")
	benchMajor   = invivo.NewBenchmark("GCMajor")
	benchPin     = invivo.NewBenchmark("GCPin")
	benchMark    = invivo.NewBenchmark("GCMark")
	benchPromote = invivo.NewBenchmark("GCPromote")
	benchSweep   = invivo.NewBenchmark("GCSweep")
)

var (
	metricMarked   = invivo.NewMetricAvg("objects-marked/op")
	metricPinned   = invivo.NewMetricAvg("objects-pinned/op")
	metricPromoted = invivo.NewMetricRate("B/promoted-object")
	metricSwept    = invivo.NewMetricAvg("objects-swept/op")
	metricPauseP99 = invivo.NewMetricQuantile("p99-pause-ns", 0.99)
)
