// Package latency keeps per-market rings of stage durations and computes
// percentiles on demand.
package latency

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stage uint8

const (
	Decision Stage = iota
	Send
	Ack
	numStages
)

var stageNames = [numStages]string{"t_decision", "t_send", "t_ack"}

func (s Stage) String() string {
	if s < numStages {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", s)
}

func Stages() []Stage { return []Stage{Decision, Send, Ack} }

const DefaultCapacity = 1000

// DefaultPercentiles are the ones reported.
var DefaultPercentiles = []float64{50, 90, 99}

type ring struct {
	mu   sync.Mutex
	buf  []time.Duration
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]time.Duration, n)} }

func (r *ring) add(d time.Duration) {
	r.mu.Lock()
	r.buf[r.next] = d
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) appendTo(dst []time.Duration) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return append(dst, r.buf...)
	}
	return append(dst, r.buf[:r.next]...)
}

type series struct {
	stages [numStages]*ring
}

// Metrics is safe for concurrent use. Recording on one market never waits on
// another market.
type Metrics struct {
	series   sync.Map // market -> *series
	capacity int
	disabled atomic.Bool
}

type Option func(*Metrics)

func WithCapacity(n int) Option {
	return func(m *Metrics) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func New(opts ...Option) *Metrics {
	m := &Metrics{capacity: DefaultCapacity}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Metrics) SetEnabled(on bool) { m.disabled.Store(!on) }
func (m *Metrics) Enabled() bool      { return !m.disabled.Load() }

func (m *Metrics) seriesFor(market string) *series {
	if v, ok := m.series.Load(market); ok {
		return v.(*series)
	}
	s := &series{}
	for i := range s.stages {
		s.stages[i] = newRing(m.capacity)
	}
	v, _ := m.series.LoadOrStore(market, s)
	return v.(*series)
}

// Record appends one sample. Negative durations are clamped to zero.
func (m *Metrics) Record(stage Stage, market string, d time.Duration) {
	if m.disabled.Load() || stage >= numStages {
		return
	}
	if d < 0 {
		d = 0
	}
	m.seriesFor(market).stages[stage].add(d)
}

func (m *Metrics) RecordDecision(market string, d time.Duration) { m.Record(Decision, market, d) }
func (m *Metrics) RecordSend(market string, d time.Duration)     { m.Record(Send, market, d) }
func (m *Metrics) RecordAck(market string, d time.Duration)      { m.Record(Ack, market, d) }

// Samples returns a copy of the buffered samples. An empty market aggregates
// every market.
func (m *Metrics) Samples(stage Stage, market string) []time.Duration {
	if stage >= numStages {
		return nil
	}
	if market != "" {
		v, ok := m.series.Load(market)
		if !ok {
			return nil
		}
		return v.(*series).stages[stage].appendTo(nil)
	}
	var out []time.Duration
	m.series.Range(func(_, v any) bool {
		out = v.(*series).stages[stage].appendTo(out)
		return true
	})
	return out
}

// Percentiles returns the nearest-rank order statistic for each p in ps
// (DefaultPercentiles when empty). The result is nil when there are no samples.
func (m *Metrics) Percentiles(stage Stage, market string, ps ...float64) []time.Duration {
	if len(ps) == 0 {
		ps = DefaultPercentiles
	}
	vals := m.Samples(stage, market)
	if len(vals) == 0 {
		return nil
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	out := make([]time.Duration, len(ps))
	for i, p := range ps {
		out[i] = nearestRank(vals, p)
	}
	return out
}

func nearestRank(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Reset drops every series. Meant for use between benchmark runs.
func (m *Metrics) Reset() { m.series.Clear() }

type StageStats struct {
	Stage Stage
	Count int
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
}

type Report struct {
	Market string // "" = all markets
	Stages []StageStats
}

func (m *Metrics) Report(market string) Report {
	r := Report{Market: market}
	for _, st := range Stages() {
		ss := StageStats{Stage: st}
		vals := m.Samples(st, market)
		ss.Count = len(vals)
		if ss.Count > 0 {
			sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
			ss.P50 = nearestRank(vals, 50)
			ss.P90 = nearestRank(vals, 90)
			ss.P99 = nearestRank(vals, 99)
		}
		r.Stages = append(r.Stages, ss)
	}
	return r
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (r Report) String() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	title := "(TOTAL)"
	if r.Market != "" {
		title = "(" + r.Market + ")"
	}
	fmt.Fprintf(&b, "%s\nLATENCY REPORT %s\n%s\n", rule, title, rule)
	for _, s := range r.Stages {
		if s.Count == 0 {
			fmt.Fprintf(&b, "\n%s: no data\n", strings.ToUpper(s.Stage.String()))
			continue
		}
		fmt.Fprintf(&b, "\n%s (n=%d):\n  p50: %.2fms\n  p90: %.2fms\n  p99: %.2fms\n",
			strings.ToUpper(s.Stage.String()), s.Count, ms(s.P50), ms(s.P90), ms(s.P99))
	}
	b.WriteString(rule)
	return b.String()
}
