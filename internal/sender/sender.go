// Package sender dispatches order intents without ever blocking the
// decision loop that produces them.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/latency"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
)

// OrderAck is what the exchange returned for an accepted order.
type OrderAck struct {
	OrderID string
	Status  string
}

// OrderClient submits one order. Implementations may block on network I/O.
type OrderClient interface {
	CreateOrder(ctx context.Context, market string, side model.Side, price fixedpoint.Price, size fixedpoint.Size) (OrderAck, error)
}

type Config struct {
	FlushWindow          time.Duration
	MaxInFlightPerMarket int
	IdleWait             time.Duration
	SubmitTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlushWindow:          20 * time.Millisecond,
		MaxInFlightPerMarket: 2,
		IdleWait:             time.Second,
		SubmitTimeout:        10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FlushWindow <= 0 {
		c.FlushWindow = d.FlushWindow
	}
	if c.MaxInFlightPerMarket <= 0 {
		c.MaxInFlightPerMarket = d.MaxInFlightPerMarket
	}
	if c.IdleWait <= 0 {
		c.IdleWait = d.IdleWait
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}

type Stats struct {
	Submitted    uint64
	Acknowledged uint64
	Failed       uint64
	Requeued     uint64
}

type Sender struct {
	client  OrderClient
	cfg     Config
	metrics *latency.Metrics
	sink    OutcomeSink
	log     *slog.Logger

	mu     sync.Mutex
	queue  []*model.Intent
	signal chan struct{}

	inflight sync.Map // market -> *atomic.Int64
	subs     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	submitted, acked, failed, requeued atomic.Uint64
}

type Option func(*Sender)

func WithMetrics(m *latency.Metrics) Option { return func(s *Sender) { s.metrics = m } }
func WithSink(sink OutcomeSink) Option      { return func(s *Sender) { s.sink = sink } }
func WithLogger(l *slog.Logger) Option      { return func(s *Sender) { s.log = l } }

func New(client OrderClient, cfg Config, opts ...Option) *Sender {
	s := &Sender{
		client: client,
		cfg:    cfg.withDefaults(),
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logger.For("sender")
	}
	return s
}

// Submit enqueues an intent and returns immediately.
func (s *Sender) Submit(in *model.Intent) {
	if in == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, in)
	s.mu.Unlock()
	s.wake()
}

func (s *Sender) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Sender) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sender) InFlight(market string) int {
	if v, ok := s.inflight.Load(market); ok {
		return int(v.(*atomic.Int64).Load())
	}
	return 0
}

func (s *Sender) Stats() Stats {
	return Stats{
		Submitted:    s.submitted.Load(),
		Acknowledged: s.acked.Load(),
		Failed:       s.failed.Load(),
		Requeued:     s.requeued.Load(),
	}
}

func (s *Sender) counter(market string) *atomic.Int64 {
	if v, ok := s.inflight.Load(market); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.inflight.LoadOrStore(market, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Start launches the dispatch loop. Cancelling ctx has the same effect as Stop
// minus the wait.
func (s *Sender) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.log.Info("sender started",
			"flush_window", s.cfg.FlushWindow,
			"max_inflight", s.cfg.MaxInFlightPerMarket)
		go s.run(ctx)
	})
}

// Stop lets the batch being collected go out, then waits for every launched
// submission to finish. Intents still queued are left undispatched.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	started := true
	s.startOnce.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
	s.subs.Wait()
	if n := s.QueueLen(); n > 0 {
		s.log.Warn("sender stopped with queued intents", "queued", n)
	}
	s.log.Info("sender stopped")
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.done)
	for {
		batch, more := s.collect(ctx)
		if len(batch) > 0 {
			s.dispatch(batch)
		}
		if !more {
			return
		}
	}
}

func (s *Sender) takeAll(dst []*model.Intent) []*model.Intent {
	s.mu.Lock()
	dst = append(dst, s.queue...)
	s.queue = s.queue[:0]
	s.mu.Unlock()
	return dst
}

// collect waits up to IdleWait for the first intent, then keeps gathering
// until FlushWindow has elapsed. more is false once the sender is stopping.
func (s *Sender) collect(ctx context.Context) (batch []*model.Intent, more bool) {
	idle := time.NewTimer(s.cfg.IdleWait)
	defer idle.Stop()

	for len(batch) == 0 {
		batch = s.takeAll(batch)
		if len(batch) > 0 {
			break
		}
		select {
		case <-s.signal:
		case <-idle.C:
			return nil, true
		case <-s.stopCh:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}

	window := time.NewTimer(s.cfg.FlushWindow)
	defer window.Stop()
	for {
		select {
		case <-s.signal:
			batch = s.takeAll(batch)
		case <-window.C:
			return s.takeAll(batch), true
		case <-s.stopCh:
			return s.takeAll(batch), false
		case <-ctx.Done():
			return s.takeAll(batch), false
		}
	}
}

// dispatch groups by market and applies admission. The loop is the only
// goroutine that increments in-flight counters, so Load-then-Add is safe.
func (s *Sender) dispatch(batch []*model.Intent) {
	byMarket := make(map[string][]*model.Intent)
	var order []string
	for _, in := range batch {
		m := in.Market()
		if _, ok := byMarket[m]; !ok {
			order = append(order, m)
		}
		byMarket[m] = append(byMarket[m], in)
	}

	var held []*model.Intent
	limit := int64(s.cfg.MaxInFlightPerMarket)
	for _, m := range order {
		c := s.counter(m)
		for _, in := range byMarket[m] {
			if !in.Critical() && c.Load() >= limit {
				held = append(held, in)
				continue
			}
			c.Add(1)
			s.subs.Add(1)
			s.submitted.Add(1)
			go s.submit(in, c)
		}
	}

	if len(held) > 0 {
		s.requeued.Add(uint64(len(held)))
		s.mu.Lock()
		s.queue = append(held, s.queue...)
		s.mu.Unlock()
		s.log.Debug("intents held back by in-flight cap", "count", len(held))
	}
}

func (s *Sender) submit(in *model.Intent, c *atomic.Int64) {
	defer s.subs.Done()
	defer c.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	defer cancel()

	start := clock.Nanotime()
	sendLatency := time.Duration(start - in.CreatedNs())

	ack, err := s.call(ctx, in)
	ackLatency := clock.Since(start)

	out := Outcome{
		Kind:        Acknowledged,
		Market:      in.Market(),
		Side:        in.Side().String(),
		Price:       in.Price().String(),
		Size:        in.Size().String(),
		Priority:    in.Priority().String(),
		ClientID:    in.ClientID().String(),
		SendLatency: sendLatency,
		AckLatency:  ackLatency,
		At:          time.Now().UTC(),
	}

	if err != nil {
		s.failed.Add(1)
		s.log.Error("order submission failed",
			"market", in.Market(),
			"side", in.Side().String(),
			"price", in.Price().String(),
			"size", in.Size().String(),
			"err", err)
		out.Kind = Failed
		out.Err = err.Error()
		s.publish(out)
		return
	}

	s.acked.Add(1)
	if s.metrics != nil {
		s.metrics.RecordSend(in.Market(), sendLatency)
		s.metrics.RecordAck(in.Market(), ackLatency)
	}
	if ack.OrderID != "" {
		in.SetOrderID(ack.OrderID)
	}
	out.OrderID = in.OrderID()
	s.publish(out)
}

func (s *Sender) call(ctx context.Context, in *model.Intent) (ack OrderAck, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order client panic: %v", r)
		}
	}()
	ctx = WithClientID(ctx, in.ClientID().String())
	return s.client.CreateOrder(ctx, in.Market(), in.Side(), in.Price(), in.Size())
}

type clientIDKey struct{}

// WithClientID attaches the intent's client id to an order call so venues that
// carry a client order id can reuse it.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}

// ClientID returns the id set by WithClientID.
func ClientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey{}).(string)
	return id, ok && id != ""
}

func (s *Sender) publish(o Outcome) {
	if s.sink != nil {
		s.sink.Publish(o)
	}
}
