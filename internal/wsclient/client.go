package wsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Poly_Maker/internal/infra"
	"Poly_Maker/internal/logger"
)

const DefaultURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

type Config struct {
	URL          string
	Assets       []string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Backoff      infra.Backoff
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = infra.DefaultBackoff
	}
	return c
}

// FrameHandler consumes raw feed frames in receive order.
type FrameHandler interface {
	HandleFrame(raw []byte)
	ResyncAll()
}

// Worker keeps one market-channel connection alive and feeds every frame to
// the handler on a single goroutine.
type Worker struct {
	cfg     Config
	handler FrameHandler
	dialer  *websocket.Dialer
	log     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(cfg Config, handler FrameHandler) *Worker {
	return &Worker{
		cfg:     cfg.withDefaults(),
		handler: handler,
		dialer:  websocket.DefaultDialer,
		log:     logger.For("wsclient"),
	}
}

func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConn()
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0
	connected := false

	for {
		if ctx.Err() != nil {
			return
		}

		ws, _, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
		if err != nil {
			delay := w.cfg.Backoff.Delay(retry)
			w.log.Warn("dial failed", "err", err, "retry", retry, "backoff", delay)
			retry++
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		retry = 0
		w.setConn(ws)
		w.log.Info("connected", "url", w.cfg.URL)

		if connected {
			w.handler.ResyncAll()
		}
		connected = true

		if err := w.subscribe(ws, w.cfg.Assets); err != nil {
			w.log.Warn("subscribe failed", "err", err)
		} else {
			w.readLoop(ctx, ws)
		}

		w.closeConn()
		if ctx.Err() != nil {
			return
		}
		w.log.Info("disconnected; reconnecting")
		if !sleepCtx(ctx, w.cfg.Backoff.Delay(0)) {
			return
		}
	}
}

func (w *Worker) setConn(ws *websocket.Conn) {
	w.mu.Lock()
	w.conn = ws
	w.mu.Unlock()
}

func (w *Worker) closeConn() {
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
