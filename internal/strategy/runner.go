package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/data"
	"Poly_Maker/internal/latency"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
)

// Submitter accepts intents without blocking.
type Submitter interface {
	Submit(in *model.Intent)
}

type RunnerStats struct {
	Decisions uint64
	Intents   uint64
	Skipped   uint64
	Panics    uint64
}

type RunnerOption func(*Runner)

func WithMetrics(m *latency.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithMaxBookAge skips books that have not changed for longer than d.
func WithMaxBookAge(d time.Duration) RunnerOption { return func(r *Runner) { r.maxAge = d } }

// Runner is the decision loop: it consumes market ids from the registry
// updates channel, hands the current snapshot to the strategy and submits
// whatever intents come back.
type Runner struct {
	updates  <-chan string
	registry *data.Registry
	strat    Strategy
	out      Submitter
	metrics  *latency.Metrics
	maxAge   time.Duration
	log      *slog.Logger

	// loop goroutine only
	last map[string]*data.Snapshot

	decisions, intents, skipped, panics atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(updates <-chan string, registry *data.Registry, strat Strategy, out Submitter, opts ...RunnerOption) *Runner {
	r := &Runner{
		updates:  updates,
		registry: registry,
		strat:    strat,
		out:      out,
		log:      logger.For("strategy"),
		last:     make(map[string]*data.Snapshot),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.Run(ctx)
	}(r.done)
	r.log.Info("decision loop started", "strategy", r.strat.Name())
}

func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks until ctx ends or the updates channel is closed.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case market, ok := <-r.updates:
			if !ok {
				return
			}
			r.OnUpdate(market)
		}
	}
}

// OnUpdate evaluates one market. Updates that arrive after the snapshot they
// announce has already been evaluated are skipped.
func (r *Runner) OnUpdate(market string) {
	book, ok := r.registry.Get(market)
	if !ok {
		return
	}
	snap := book.Snapshot()
	if snap == nil {
		return
	}
	if r.last[market] == snap {
		r.skipped.Add(1)
		return
	}
	r.last[market] = snap
	if r.maxAge > 0 && book.IsStale(r.maxAge) {
		r.skipped.Add(1)
		return
	}

	intents, err := r.decide(snap)
	if err != nil {
		r.panics.Add(1)
		r.log.Error("strategy failed", "market", market, "err", err)
		return
	}
	r.decisions.Add(1)
	if r.metrics != nil {
		r.metrics.RecordDecision(market, clock.Since(snap.TimestampNs()))
	}
	for _, in := range intents {
		if in == nil {
			continue
		}
		r.intents.Add(1)
		r.out.Submit(in)
	}
}

func (r *Runner) decide(snap *data.Snapshot) (intents []*model.Intent, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.strat.OnBook(snap), nil
}

func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Decisions: r.decisions.Load(),
		Intents:   r.intents.Load(),
		Skipped:   r.skipped.Load(),
		Panics:    r.panics.Load(),
	}
}
