// Package servers exposes the admin HTTP surface: health, latency report,
// book reads, drift history, Prometheus metrics and a manual intent ingress.
package servers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/latency"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/storage"
)

// IntentSink is the dispatch side the ingress feeds.
type IntentSink interface {
	Submit(in *model.Intent)
}

type DriftReader interface {
	Recent(ctx context.Context, market string, limit int) ([]storage.DriftRecord, error)
	Totals(ctx context.Context) (map[string]int, error)
}

type Resyncer interface {
	Trigger(market string)
}

type Canceller interface {
	CancelAllForMarket(ctx context.Context, market string) ([]string, error)
}

// Deps are the engine parts the admin surface reads. Nil members disable the
// routes that need them.
type Deps struct {
	Registry  *data.Registry
	Metrics   *latency.Metrics
	Intents   IntentSink
	Drift     DriftReader
	Resync    Resyncer
	Canceller Canceller
	// Stats returns component state for GET /stats.
	Stats func() map[string]any
	// Counters feeds maker_events_total on GET /metrics.
	Counters func() map[string]uint64
}

type Server struct {
	addr string
	deps Deps
	e    *echo.Echo
	log  *slog.Logger

	// highest accepted ingress seq
	lastSeq atomic.Uint64
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps, log: logger.For("admin")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", s.health)
	e.GET("/latency", s.latency)
	e.GET("/books", s.books)
	e.GET("/books/:market", s.book)
	e.POST("/books/:market/resync", s.resync)
	e.GET("/drift", s.drift)
	e.GET("/stats", s.stats)
	e.POST("/intents", s.postIntent)
	e.POST("/markets/:market/cancel", s.cancelAll)
	e.GET("/metrics", metricsHandler(deps))

	s.e = e
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("listening", "addr", s.addr)
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := any(err.Error())
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = he.Message
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "err", err)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"ok": false, "error": msg})
	}
}

func (s *Server) health(c echo.Context) error {
	var initialized int
	for _, b := range s.deps.Registry.All() {
		if b.Initialized() {
			initialized++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":          true,
		"markets":     s.deps.Registry.Len(),
		"initialized": initialized,
		"ts_ms":       time.Now().UnixMilli(),
	})
}
