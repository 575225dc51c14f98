package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Poly_Maker/internal/auth"
	"Poly_Maker/internal/clob"
	"Poly_Maker/internal/config"
	"Poly_Maker/internal/data"
	"Poly_Maker/internal/events"
	"Poly_Maker/internal/fix"
	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/infra"
	"Poly_Maker/internal/latency"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/notify"
	"Poly_Maker/internal/reconcile"
	"Poly_Maker/internal/sender"
	"Poly_Maker/internal/servers"
	"Poly_Maker/internal/storage"
	"Poly_Maker/internal/strategy"
	"Poly_Maker/internal/wsclient"
)

// Engine owns every long-running task of the maker. Start brings them up in
// dependency order; Stop tears them down in reverse.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	Registry   *data.Registry
	Metrics    *latency.Metrics
	Client     *clob.Client
	Reconciler *reconcile.Reconciler
	Sender     *sender.Sender
	Ingestor   *wsclient.Ingestor
	Runner     *strategy.Runner
	Admin      *servers.Server

	journal  *storage.DriftJournal
	producer *events.Producer
	fixApp   *fix.App
	updates  chan string

	mu      sync.Mutex
	handles []Handle
}

func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg, log: logger.For("engine")}
}

func (e *Engine) push(h Handle) {
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
}

// Start assembles the engine. On error everything already started is stopped.
func (e *Engine) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			e.Stop(stopCtx)
		}
	}()
	cfg := e.cfg

	if err := fixedpoint.SetScale(cfg.Scale); err != nil {
		return err
	}
	uni, err := BuildUniverse(cfg.Markets, 0)
	if err != nil {
		return err
	}
	strat, err := ChooseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	e.updates = make(chan string, cfg.Decision.QueueSize)
	e.Registry = data.NewRegistry(data.WithUpdates(e.updates))
	e.Metrics = latency.New(latency.WithCapacity(cfg.Latency.Capacity))
	e.Metrics.SetEnabled(cfg.Latency.Enabled)

	e.Client = e.buildClient()
	ntf := e.buildNotifier()

	if cfg.Storage.JournalPath != "" {
		if e.journal, err = storage.OpenDriftJournal(cfg.Storage.JournalPath); err != nil {
			return fmt.Errorf("drift journal: %w", err)
		}
		e.push(Handle{Name: "journal", Stop: func(context.Context) { _ = e.journal.Close() }})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		e.producer = events.NewProducer(events.Config{
			Brokers:    cfg.Kafka.Brokers,
			OrderTopic: cfg.Kafka.OrderTopic,
			DriftTopic: cfg.Kafka.DriftTopic,
		})
		e.push(Handle{Name: "kafka", Stop: func(context.Context) { _ = e.producer.Close() }})
	}

	// reconciler: seed, then periodic
	var ropts []reconcile.Option
	if e.journal != nil {
		ropts = append(ropts, reconcile.WithRecorder(e.journal))
	}
	if e.producer != nil {
		ropts = append(ropts, reconcile.WithPublisher(e.producer))
	}
	if ntf != nil {
		ropts = append(ropts, reconcile.WithNotifier(ntf))
	}
	e.Reconciler = reconcile.New(e.Registry, e.Client, reconcile.Config{
		Interval:         cfg.Reconcile.Interval,
		FetchTimeout:     cfg.Reconcile.FetchTimeout,
		Parallelism:      cfg.Reconcile.Parallelism,
		DriftAlertLevels: cfg.Reconcile.DriftAlertLevels,
	}, ropts...)
	seed := e.Reconciler.Seed(ctx, uni.Markets)
	e.log.Info("books seeded", "ok", seed.Reconciled, "failed", seed.Failed)
	e.Reconciler.Start(ctx)
	e.push(Handle{Name: "reconciler", Stop: func(context.Context) { e.Reconciler.Stop() }})

	// feed sink is shared by the websocket and FIX feeds
	e.Ingestor = wsclient.NewIngestor(e.Registry, e.Reconciler)
	if cfg.Feed.Source == "fix" || cfg.Exchange.Venue == "fix" {
		var sink fix.DeltaSink = discard{}
		var markets []string
		if cfg.Feed.Source == "fix" {
			sink, markets = e.Ingestor, uni.Markets
		}
		e.fixApp = fix.NewApp(fix.Config{
			SettingsPath: cfg.Feed.FIXSettings,
			Markets:      markets,
			MarketDepth:  cfg.Feed.FIXDepth,
			APIKey:       cfg.Exchange.APIKey,
			Secret:       cfg.Exchange.APISecret,
		}, sink)
		// the session must outlive the sender so Stop drains orders it still owns
		if err := e.fixApp.Start(); err != nil {
			return fmt.Errorf("fix engine: %w", err)
		}
		e.push(Handle{Name: "fix", Stop: func(context.Context) { e.fixApp.Stop() }})
	}

	// dispatch
	client, err := e.orderClient()
	if err != nil {
		return err
	}
	sopts := []sender.Option{sender.WithMetrics(e.Metrics)}
	if e.producer != nil {
		sopts = append(sopts, sender.WithSink(e.producer))
	}
	e.Sender = sender.New(client, sender.Config{
		FlushWindow:          cfg.Sender.FlushWindow,
		MaxInFlightPerMarket: cfg.Sender.MaxInFlightPerMarket,
		IdleWait:             cfg.Sender.IdleWait,
		SubmitTimeout:        cfg.Sender.SubmitTimeout,
	}, sopts...)
	e.Sender.Start(ctx)
	e.push(Handle{Name: "sender", Stop: func(context.Context) { e.Sender.Stop() }})

	// feed
	if cfg.Feed.Source == "ws" {
		w := wsclient.NewWorker(wsclient.Config{
			URL:          cfg.Feed.WSURL,
			Assets:       uni.Markets,
			PingInterval: cfg.Feed.PingInterval,
			ReadTimeout:  cfg.Feed.ReadTimeout,
		}, e.Ingestor)
		w.Start(ctx)
		e.push(Handle{Name: "ws", Stop: func(context.Context) { w.Stop() }})
	}

	// decision loop
	e.Runner = strategy.NewRunner(e.updates, e.Registry, strat, e.Sender,
		strategy.WithMetrics(e.Metrics),
		strategy.WithMaxBookAge(cfg.Decision.MaxBookAge),
	)
	e.Runner.Start(ctx)
	e.push(Handle{Name: "strategy", Stop: func(context.Context) { e.Runner.Stop() }})

	if cfg.Admin.Addr != "" {
		e.Admin = servers.NewServer(cfg.Admin.Addr, e.adminDeps())
		e.Admin.Start()
		e.push(Handle{Name: "admin", Stop: func(ctx context.Context) { _ = e.Admin.Shutdown(ctx) }})
	}

	e.log.Info("engine started", "markets", len(uni.Markets), "feed", cfg.Feed.Source, "venue", cfg.Exchange.Venue, "live", cfg.Live())
	return nil
}

// Stop runs every handle in reverse start order.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	handles := e.handles
	e.handles = nil
	e.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		start := time.Now()
		if h.Stop != nil {
			h.Stop(ctx)
		}
		e.log.Info("stopped", "unit", h.Name, "took", time.Since(start))
	}
	if e.Metrics != nil && e.Metrics.Enabled() {
		e.log.Info("final latency\n" + e.Metrics.Report("").String())
	}
}

func (e *Engine) buildClient() *clob.Client {
	cfg := e.cfg
	opts := []clob.Option{
		clob.WithBreaker(infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("clob"))),
	}
	creds := auth.L2{
		Address:    cfg.Exchange.Address,
		APIKey:     cfg.Exchange.APIKey,
		Secret:     cfg.Exchange.APISecret,
		Passphrase: cfg.Exchange.Passphrase,
	}
	if creds.Validate() == nil {
		opts = append(opts, clob.WithCredentials(creds))
	}
	if cfg.Exchange.SignerURL != "" {
		opts = append(opts, clob.WithSigner(clob.NewRemoteSigner(cfg.Exchange.SignerURL)))
	}
	return clob.New(clob.Config{
		BaseURL:      cfg.Exchange.RestURL,
		HTTPTimeout:  cfg.Exchange.HTTPTimeout,
		BookCacheTTL: cfg.Exchange.BookCacheTTL,
		RatePerSec:   cfg.Exchange.RatePerSec,
		Burst:        cfg.Exchange.Burst,
		OrderType:    cfg.Exchange.OrderType,
	}, opts...)
}

func (e *Engine) buildNotifier() notify.Notifier {
	cfg := e.cfg
	var targets notify.Multi
	tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	switch {
	case err == nil:
		targets = append(targets, tg)
	case !errors.Is(err, notify.ErrNotConfigured):
		e.log.Warn("telegram disabled", "err", err)
	}
	if cfg.Notify.WebhookURL != "" {
		targets = append(targets, notify.NewWebhook(cfg.Notify.WebhookURL))
	}
	if len(targets) == 0 {
		return nil
	}
	return notify.NewThrottle(targets, cfg.Notify.Cooldown)
}

func (e *Engine) orderClient() (sender.OrderClient, error) {
	cfg := e.cfg
	if !cfg.Live() {
		e.log.Warn("dry run: orders are acknowledged locally")
		return sender.NewPaper(0), nil
	}
	switch cfg.Exchange.Venue {
	case "fix":
		return e.fixApp.Gateway(), nil
	case "clob":
		if cfg.Exchange.SignerURL == "" {
			e.log.Warn("no order signer configured; falling back to paper orders")
			return sender.NewPaper(0), nil
		}
		return e.Client, nil
	}
	return nil, fmt.Errorf("app: unknown venue %q", cfg.Exchange.Venue)
}

func (e *Engine) adminDeps() servers.Deps {
	d := servers.Deps{
		Registry: e.Registry,
		Metrics:  e.Metrics,
		Intents:  e.Sender,
		Resync:   e.Reconciler,
		Stats:    e.Stats,
		Counters: e.Counters,
	}
	if e.journal != nil {
		d.Drift = e.journal
	}
	if e.cfg.Live() {
		switch {
		case e.cfg.Exchange.Venue == "fix":
			d.Canceller = e.fixApp.Gateway()
		case e.Client != nil && e.cfg.Exchange.SignerURL != "":
			d.Canceller = e.Client
		}
	}
	return d
}

// Stats gathers the counters of every component for the admin surface.
func (e *Engine) Stats() map[string]any {
	out := map[string]any{
		"markets":          e.Registry.Len(),
		"reconcile_cycles": e.Reconciler.Cycles(),
		"sender":           e.Sender.Stats(),
		"sender_queue_len": e.Sender.QueueLen(),
		"ingest":           e.Ingestor.Stats(),
		"strategy":         e.Runner.Stats(),
		"latency_enabled":  e.Metrics.Enabled(),
		"decision_backlog": len(e.updates),
	}
	return out
}

// Counters flattens the monotonic counters for the metrics endpoint.
func (e *Engine) Counters() map[string]uint64 {
	ss := e.Sender.Stats()
	is := e.Ingestor.Stats()
	rs := e.Runner.Stats()
	return map[string]uint64{
		"sender_submitted":    ss.Submitted,
		"sender_acknowledged": ss.Acknowledged,
		"sender_failed":       ss.Failed,
		"sender_requeued":     ss.Requeued,
		"ingest_frames":       is.Frames,
		"ingest_deltas":       is.Deltas,
		"ingest_snapshots":    is.Snapshots,
		"ingest_rejected":     is.Rejected,
		"ingest_malformed":    is.Malformed,
		"decisions":           rs.Decisions,
		"decision_intents":    rs.Intents,
		"decision_skipped":    rs.Skipped,
		"decision_panics":     rs.Panics,
		"reconcile_cycles":    e.Reconciler.Cycles(),
	}
}

type discard struct{}

func (discard) Apply(model.Delta) {}
