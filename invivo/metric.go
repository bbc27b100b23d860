// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package invivo

import (
	"fmt"
	"sync"

	"github.com/aclements/go-moremath/stats"
)

// metricAccum is a metric accumulator.
type metricAccum interface {
	// new returns a new child metricAccum that will commit its results to this
	// metricAccum.
	new() metricAccum
	// commit accumulates the value of this metricAccum into its parent.
	commit()
	// reset discards the accumulated value.
	reset()
	// count returns the total number of samples accumulated into this metric.
	count() int
	// report returns the accumulated value of this metric.
	report() float64
}

// metric is a registered metric.
type metric struct {
	name string
	new  func() metricAccum // return a new root accumulator
}

var (
	metricsLock   sync.Mutex
	metricNSPerOp = &MetricAvg{0}
	allMetrics    = []*metric{{"ns/op", func() metricAccum { return &metricAvgAccum{id: 0} }}}
)

func registerMetric(name string, new func() metricAccum) int {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	id := len(allMetrics)
	allMetrics = append(allMetrics, &metric{name, new})
	return id
}

func metricName(id int) string {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	return allMetrics[id].name
}

// accum returns r's accumulator for metric id.
func (r Run) accum(id int) metricAccum {
	ri := r.internal()
	if id >= len(ri.metrics) {
		panic(fmt.Sprintf("metric %q registered after benchmark %s started", metricName(id), ri.b.name))
	}
	return ri.metrics[id]
}

// MetricAvg is a metric that takes the average of its samples.
type MetricAvg struct {
	id int
}

func NewMetricAvg(name string) *MetricAvg {
	m := new(MetricAvg)
	m.id = registerMetric(name, func() metricAccum {
		return &metricAvgAccum{id: m.id}
	})
	return m
}

// Set sets r's sample of m to val.
func (m *MetricAvg) Set(r Run, val float64) {
	accum := r.accum(m.id).(*metricAvgAccum)
	accum.n = 1
	accum.total = val
}

type metricAvgAccum struct {
	id     int
	parent *metricAvgAccum

	n     int
	total float64
}

func (m *metricAvgAccum) new() metricAccum {
	return &metricAvgAccum{id: m.id, parent: m}
}

func (m *metricAvgAccum) commit() {
	p := m.parent
	p.n += m.n
	p.total += m.total
	m.reset()
}

func (m *metricAvgAccum) reset() {
	m.n, m.total = 0, 0
}

func (m *metricAvgAccum) count() int {
	return m.n
}

func (m *metricAvgAccum) report() float64 {
	return m.total / float64(m.n)
}

// MetricRate is a metric that accumulates a total rate.
type MetricRate struct {
	id int
}

func NewMetricRate(name string) *MetricRate {
	m := new(MetricRate)
	m.id = registerMetric(name, func() metricAccum {
		return &metricRateAccum{id: m.id}
	})
	return m
}

// Set sets r's sample of m to numer/denom. Rates of several runs are
// combined by summing numerators and denominators.
func (m *MetricRate) Set(r Run, numer, denom float64) {
	if denom == 0 {
		if numer == 0 {
			return
		}
		panic("divide by zero")
	}

	accum := r.accum(m.id).(*metricRateAccum)
	accum.n = 1
	accum.numer = numer
	accum.denom = denom
}

type metricRateAccum struct {
	id     int
	parent *metricRateAccum

	n     int
	numer float64
	denom float64
}

func (m *metricRateAccum) new() metricAccum {
	return &metricRateAccum{id: m.id, parent: m}
}

func (m *metricRateAccum) commit() {
	p := m.parent
	p.n += m.n
	p.numer += m.numer
	p.denom += m.denom
	m.reset()
}

func (m *metricRateAccum) reset() {
	m.n, m.numer, m.denom = 0, 0, 0
}

func (m *metricRateAccum) count() int {
	return m.n
}

func (m *metricRateAccum) report() float64 {
	if m.denom == 0 {
		return 0
	}
	return m.numer / m.denom
}

// MetricQuantile is a metric that reports a quantile of its samples,
// such as the 99th percentile pause time.
type MetricQuantile struct {
	id int
	q  float64
}

// NewMetricQuantile returns a metric that reports quantile q, in [0, 1],
// of its samples.
func NewMetricQuantile(name string, q float64) *MetricQuantile {
	m := &MetricQuantile{q: q}
	m.id = registerMetric(name, func() metricAccum {
		return &metricQuantileAccum{id: m.id, q: q}
	})
	return m
}

// Set sets r's sample of m to val.
func (m *MetricQuantile) Set(r Run, val float64) {
	accum := r.accum(m.id).(*metricQuantileAccum)
	accum.xs = append(accum.xs[:0], val)
}

type metricQuantileAccum struct {
	id     int
	q      float64
	parent *metricQuantileAccum

	xs []float64
}

func (m *metricQuantileAccum) new() metricAccum {
	return &metricQuantileAccum{id: m.id, q: m.q, parent: m}
}

func (m *metricQuantileAccum) commit() {
	m.parent.xs = append(m.parent.xs, m.xs...)
	m.reset()
}

func (m *metricQuantileAccum) reset() {
	m.xs = m.xs[:0]
}

func (m *metricQuantileAccum) count() int {
	return len(m.xs)
}

func (m *metricQuantileAccum) report() float64 {
	return stats.Sample{Xs: m.xs}.Quantile(m.q)
}
