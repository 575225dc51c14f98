// Package reconcile periodically overwrites local books with exchange truth,
// off the ingestion path.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/notify"
)

var ErrUnknownMarket = errors.New("reconcile: market not registered")

// BookFetcher returns a full L2 snapshot. It may block on network I/O.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, market string) (bids, asks []model.Level, err error)
}

type DriftRecorder interface {
	RecordDrift(ctx context.Context, d data.Drift) error
}

type DriftPublisher interface {
	PublishDrift(d data.Drift)
}

type keyedNotifier interface {
	SendKeyed(ctx context.Context, key, text string) (bool, error)
}

type Config struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	Parallelism      int
	DriftAlertLevels int // 0 disables alerts
}

func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		FetchTimeout: 5 * time.Second,
		Parallelism:  4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}

type Result struct {
	Reconciled int
	Failed     int
	Drifted    int
}

type Reconciler struct {
	registry *data.Registry
	fetcher  BookFetcher
	cfg      Config
	log      *slog.Logger

	recorder  DriftRecorder
	publisher DriftPublisher
	notifier  notify.Notifier

	triggers chan string
	pending  sync.Map

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	cycles atomic.Uint64
}

type Option func(*Reconciler)

func WithRecorder(r DriftRecorder) Option   { return func(rc *Reconciler) { rc.recorder = r } }
func WithPublisher(p DriftPublisher) Option { return func(rc *Reconciler) { rc.publisher = p } }
func WithNotifier(n notify.Notifier) Option { return func(rc *Reconciler) { rc.notifier = n } }
func WithLogger(l *slog.Logger) Option      { return func(rc *Reconciler) { rc.log = l } }

func New(registry *data.Registry, fetcher BookFetcher, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry: registry,
		fetcher:  fetcher,
		cfg:      cfg.withDefaults(),
		triggers: make(chan string, 256),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logger.For("reconcile")
	}
	return r
}

func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.log.Info("reconcile task started", "interval", r.cfg.Interval)
		go r.run(ctx)
	})
}

// Stop lets an in-progress cycle finish and joins the task.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	started := true
	r.startOnce.Do(func() {
		started = false
		close(r.done)
	})
	if started {
		<-r.done
	}
}

func (r *Reconciler) Cycles() uint64 { return r.cycles.Load() }

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-t.C:
			res := r.RunOnce(ctx)
			if res.Reconciled > 0 || res.Failed > 0 {
				r.log.Info("reconcile cycle",
					"reconciled", res.Reconciled, "failed", res.Failed, "drifted", res.Drifted)
			}
		case m := <-r.triggers:
			r.pending.Delete(m)
			if _, err := r.ReconcileMarket(ctx, m); err != nil {
				r.log.Error("forced reconcile failed", "market", m, "err", err)
			}
		}
	}
}

// Trigger asks for an out-of-cycle reconcile of market. It never blocks, and
// a market already waiting is not queued twice.
func (r *Reconciler) Trigger(market string) {
	if _, loaded := r.pending.LoadOrStore(market, struct{}{}); loaded {
		return
	}
	select {
	case r.triggers <- market:
	default:
		r.pending.Delete(market)
		r.log.Warn("reconcile trigger queue full", "market", market)
	}
}

// RunOnce reconciles every registered market. A failure on one market never
// stops the others.
func (r *Reconciler) RunOnce(ctx context.Context) Result {
	r.cycles.Add(1)
	var drifted atomic.Int64
	res := r.forEach(ctx, r.registry.Markets(), func(ctx context.Context, m string) error {
		d, err := r.ReconcileMarket(ctx, m)
		if err == nil && !d.Zero() {
			drifted.Add(1)
		}
		return err
	})
	res.Drifted = int(drifted.Load())
	return res
}

// Seed registers each market and installs its initial snapshot. A market
// whose fetch fails stays registered and uninitialized, so the next cycle
// picks it up.
func (r *Reconciler) Seed(ctx context.Context, markets []string) Result {
	return r.forEach(ctx, markets, func(ctx context.Context, m string) error {
		book := r.registry.GetOrCreate(m)
		bids, asks, err := r.fetch(ctx, m)
		if err != nil {
			return err
		}
		book.InitializeFromSnapshot(bids, asks)
		return nil
	})
}

func (r *Reconciler) ReconcileMarket(ctx context.Context, market string) (data.Drift, error) {
	book, ok := r.registry.Get(market)
	if !ok {
		return data.Drift{}, fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	bids, asks, err := r.fetch(ctx, market)
	if err != nil {
		return data.Drift{}, err
	}
	d := book.Reconcile(bids, asks)
	r.report(ctx, d)
	return d, nil
}

func (r *Reconciler) fetch(ctx context.Context, market string) ([]model.Level, []model.Level, error) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	bids, asks, err := r.fetcher.GetOrderBook(fctx, market)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch book %s: %w", market, err)
	}
	return bids, asks, nil
}

func (r *Reconciler) forEach(ctx context.Context, markets []string, fn func(context.Context, string) error) Result {
	var (
		ok, failed atomic.Int64
		wg         sync.WaitGroup
		sem        = make(chan struct{}, r.cfg.Parallelism)
	)
	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := r.isolate(ctx, m, fn); err != nil {
				failed.Add(1)
				r.log.Error("reconcile market failed", "market", m, "err", err)
				return
			}
			ok.Add(1)
		}(m)
	}
	wg.Wait()
	return Result{Reconciled: int(ok.Load()), Failed: int(failed.Load())}
}

func (r *Reconciler) isolate(ctx context.Context, m string, fn func(context.Context, string) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, m)
}

func (r *Reconciler) report(ctx context.Context, d data.Drift) {
	if d.Zero() {
		return
	}
	if d.WasInitialized {
		r.log.Info("book drift corrected", "market", d.Market, "levels", d.Levels(), "drift", d.String())
	}
	if r.recorder != nil {
		if err := r.recorder.RecordDrift(ctx, d); err != nil {
			r.log.Warn("journal drift", "market", d.Market, "err", err)
		}
	}
	if r.publisher != nil {
		r.publisher.PublishDrift(d)
	}
	if r.notifier == nil || r.cfg.DriftAlertLevels <= 0 || !d.WasInitialized || d.Levels() < r.cfg.DriftAlertLevels {
		return
	}
	text := fmt.Sprintf("⚠️ book drift %d levels\n%s", d.Levels(), d.String())
	var err error
	if kn, ok := r.notifier.(keyedNotifier); ok {
		_, err = kn.SendKeyed(ctx, d.Market, text)
	} else {
		err = r.notifier.Send(ctx, text)
	}
	if err != nil {
		r.log.Warn("drift alert failed", "market", d.Market, "err", err)
	}
}
