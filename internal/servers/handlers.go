package servers

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

type stageJSON struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
}

func toMs(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (s *Server) latency(c echo.Context) error {
	if s.deps.Metrics == nil {
		return echo.NewHTTPError(http.StatusNotFound, "latency metrics disabled")
	}
	rep := s.deps.Metrics.Report(c.QueryParam("market"))
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, rep.String())
	}
	out := make([]stageJSON, 0, len(rep.Stages))
	for _, st := range rep.Stages {
		out = append(out, stageJSON{
			Stage: st.Stage.String(),
			Count: st.Count,
			P50Ms: toMs(st.P50),
			P90Ms: toMs(st.P90),
			P99Ms: toMs(st.P99),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"market": rep.Market, "stages": out})
}

type bookSummary struct {
	Market      string     `json:"market"`
	Initialized bool       `json:"initialized"`
	AgeMs       *float64   `json:"age_ms"`
	BestBid     *levelJSON `json:"best_bid,omitempty"`
	BestAsk     *levelJSON `json:"best_ask,omitempty"`
}

// topOfBook fills the best levels. An empty side stays nil.
func (bs *bookSummary) topOfBook(d model.Depth) {
	if d.BidQty > 0 {
		bs.BestBid = &levelJSON{Price: d.BidDecimal(), Size: d.BidQtyDecimal()}
	}
	if d.AskQty > 0 {
		bs.BestAsk = &levelJSON{Price: d.AskDecimal(), Size: d.AskQtyDecimal()}
	}
}

func ageMs(b *data.BookState) *float64 {
	a := b.AgeMillis()
	if math.IsInf(a, 1) {
		return nil
	}
	return &a
}

func (s *Server) books(c echo.Context) error {
	out := make([]bookSummary, 0, s.deps.Registry.Len())
	for _, m := range s.deps.Registry.Markets() {
		b, ok := s.deps.Registry.Get(m)
		if !ok {
			continue
		}
		sum := bookSummary{Market: m, Initialized: b.Initialized(), AgeMs: ageMs(b)}
		if snap := b.Snapshot(); snap != nil {
			sum.topOfBook(snap.Depth())
		}
		out = append(out, sum)
	}
	return c.JSON(http.StatusOK, out)
}

type levelJSON struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookJSON struct {
	Market string           `json:"market"`
	Seq    uint64           `json:"seq"`
	AgeMs  *float64         `json:"age_ms"`
	Mid    *decimal.Decimal `json:"mid,omitempty"`
	Spread *decimal.Decimal `json:"spread,omitempty"`
	Bids   []levelJSON      `json:"bids"`
	Asks   []levelJSON      `json:"asks"`
}

func levelsJSON(ls []model.Level, depth int) []levelJSON {
	if depth > 0 && len(ls) > depth {
		ls = ls[:depth]
	}
	out := make([]levelJSON, len(ls))
	for i, l := range ls {
		out[i] = levelJSON{Price: l.Price.Decimal(), Size: l.Size.Decimal()}
	}
	return out
}

func (s *Server) book(c echo.Context) error {
	market := c.Param("market")
	b, ok := s.deps.Registry.Get(market)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown market")
	}
	snap := b.Snapshot()
	if snap == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "book not initialized")
	}
	depth, _ := strconv.Atoi(c.QueryParam("depth"))

	out := bookJSON{
		Market: market,
		Seq:    snap.Seq(),
		AgeMs:  ageMs(b),
		Bids:   levelsJSON(snap.Bids(), depth),
		Asks:   levelsJSON(snap.Asks(), depth),
	}
	if mid, ok := snap.Mid(); ok {
		d := mid.Decimal()
		out.Mid = &d
	}
	if sp, ok := snap.Spread(); ok {
		d := sp.Decimal()
		out.Spread = &d
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) resync(c echo.Context) error {
	if s.deps.Resync == nil {
		return echo.NewHTTPError(http.StatusNotFound, "reconciler disabled")
	}
	market := c.Param("market")
	if _, ok := s.deps.Registry.Get(market); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown market")
	}
	s.deps.Resync.Trigger(market)
	return c.JSON(http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) drift(c echo.Context) error {
	if s.deps.Drift == nil {
		return echo.NewHTTPError(http.StatusNotFound, "drift journal disabled")
	}
	ctx := c.Request().Context()
	if c.QueryParam("totals") != "" {
		totals, err := s.deps.Drift.Totals(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, totals)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	recs, err := s.deps.Drift.Recent(ctx, c.QueryParam("market"), limit)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"id":     r.ID,
			"market": r.Market,
			"at":     r.At,
			"levels": r.Drift.Levels(),
			"bids":   r.Drift.Bids,
			"asks":   r.Drift.Asks,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) stats(c echo.Context) error {
	out := map[string]any{}
	if s.deps.Stats != nil {
		out = s.deps.Stats()
	}
	return c.JSON(http.StatusOK, out)
}

// intentMsg is a manual or upstream order request. Seq, when non-zero, must
// increase; replays and reordered posts are acknowledged and ignored.
type intentMsg struct {
	Seq      uint64      `json:"seq"`
	Market   string      `json:"market"`
	Side     string      `json:"side"`
	Price    json.Number `json:"price"`
	Size     json.Number `json:"size"`
	Priority string      `json:"priority"`
}

func parsePriority(s string) (model.Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return model.Normal, true
	case "high":
		return model.High, true
	case "critical":
		return model.Critical, true
	}
	return 0, false
}

// acceptSeq advances lastSeq. It returns false for a stale seq.
func (s *Server) acceptSeq(seq uint64) bool {
	for {
		prev := s.lastSeq.Load()
		if seq != 0 && seq <= prev {
			return false
		}
		if seq == 0 || s.lastSeq.CompareAndSwap(prev, seq) {
			return true
		}
	}
}

func (s *Server) postIntent(c echo.Context) error {
	if s.deps.Intents == nil {
		return echo.NewHTTPError(http.StatusNotFound, "intent ingress disabled")
	}
	var m intentMsg
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad json")
	}
	side, err := model.ParseSide(m.Side)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prio, ok := parsePriority(m.Priority)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "bad priority")
	}
	price, err := fixedpoint.PriceFrom(m.Price)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	size, err := fixedpoint.SizeFrom(m.Size)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := model.NewIntent(m.Market, side, price, size, prio, model.WithClientID(uuid.New()))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// a rejected request leaves its seq free for the corrected resend
	if !s.acceptSeq(m.Seq) {
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "ignored": "stale_seq"})
	}
	s.deps.Intents.Submit(in)
	s.log.Info("intent accepted", "market", in.Market(), "side", side.String(), "price", price.String(), "size", size.String(), "seq", m.Seq)

	return c.JSON(http.StatusAccepted, map[string]any{"ok": true, "client_id": in.ClientID().String()})
}

func (s *Server) cancelAll(c echo.Context) error {
	if s.deps.Canceller == nil {
		return echo.NewHTTPError(http.StatusNotFound, "cancel disabled")
	}
	ids, err := s.deps.Canceller.CancelAllForMarket(c.Request().Context(), c.Param("market"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "canceled": ids})
}
