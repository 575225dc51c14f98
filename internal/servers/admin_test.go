package servers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/latency"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/storage"
)

type intents struct {
	mu  sync.Mutex
	got []*model.Intent
}

func (i *intents) Submit(in *model.Intent) {
	i.mu.Lock()
	i.got = append(i.got, in)
	i.mu.Unlock()
}

type triggers struct{ markets []string }

func (t *triggers) Trigger(m string) { t.markets = append(t.markets, m) }

type fakeDrift struct{ recs []storage.DriftRecord }

func (f *fakeDrift) Recent(_ context.Context, market string, limit int) ([]storage.DriftRecord, error) {
	return f.recs, nil
}

func (f *fakeDrift) Totals(context.Context) (map[string]int, error) {
	return map[string]int{"tok": 3}, nil
}

type failingCanceller struct{}

func (failingCanceller) CancelAllForMarket(context.Context, string) ([]string, error) {
	return nil, errors.New("venue down")
}

func newTestServer(t *testing.T) (*Server, *intents, *triggers) {
	t.Helper()
	reg := data.NewRegistry()
	reg.GetOrCreate("tok").InitializeFromSnapshot(
		[]model.Level{{Price: 480, Size: 10}, {Price: 470, Size: 4}},
		[]model.Level{{Price: 520, Size: 7}},
	)
	reg.GetOrCreate("cold")
	m := latency.New()
	m.RecordAck("tok", 3*time.Millisecond)

	in := &intents{}
	tr := &triggers{}
	s := NewServer("127.0.0.1:0", Deps{
		Registry:  reg,
		Metrics:   m,
		Intents:   in,
		Resync:    tr,
		Drift:     &fakeDrift{recs: []storage.DriftRecord{{ID: 1, Market: "tok", Drift: data.Drift{Market: "tok", Bids: data.SideDrift{Added: 2}}}}},
		Canceller: failingCanceller{},
		Stats:     func() map[string]any { return map[string]any{"queue_len": 0} },
	})
	return s, in, tr
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, out := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || out["markets"].(float64) != 2 || out["initialized"].(float64) != 1 {
		t.Fatalf("%d %v", rec.Code, out)
	}
}

func TestBookRead(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, out := do(t, s, http.MethodGet, "/books/tok?depth=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d: %s", rec.Code, rec.Body)
	}
	bids := out["bids"].([]any)
	if len(bids) != 1 || bids[0].(map[string]any)["price"] != "0.48" {
		t.Fatalf("bids = %v", bids)
	}
	if out["mid"] != "0.5" || out["spread"] != "0.04" {
		t.Fatalf("mid/spread = %v %v", out["mid"], out["spread"])
	}

	if rec, _ := do(t, s, http.MethodGet, "/books/cold", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("uninitialized book code = %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodGet, "/books/none", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown book code = %d", rec.Code)
	}
}

func TestBooksSummaryCarriesBestLevels(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, _ := do(t, s, http.MethodGet, "/books", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d: %s", rec.Code, rec.Body)
	}
	var out []bookSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	byMarket := map[string]bookSummary{}
	for _, b := range out {
		byMarket[b.Market] = b
	}

	tok := byMarket["tok"]
	if !tok.Initialized || tok.BestBid == nil || tok.BestAsk == nil {
		t.Fatalf("tok = %+v", tok)
	}
	if tok.BestBid.Price.String() != "0.48" || tok.BestBid.Size.String() != "10" {
		t.Fatalf("best bid = %+v", tok.BestBid)
	}
	if tok.BestAsk.Price.String() != "0.52" || tok.BestAsk.Size.String() != "7" {
		t.Fatalf("best ask = %+v", tok.BestAsk)
	}

	cold := byMarket["cold"]
	if cold.Initialized || cold.BestBid != nil || cold.BestAsk != nil || cold.AgeMs != nil {
		t.Fatalf("cold = %+v", cold)
	}
}

func TestLatencyReport(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, out := do(t, s, http.MethodGet, "/latency?market=tok", "")
	if rec.Code != http.StatusOK || len(out["stages"].([]any)) != 3 {
		t.Fatalf("%d %v", rec.Code, out)
	}
	req := httptest.NewRequest(http.MethodGet, "/latency?format=text", nil)
	txt := httptest.NewRecorder()
	s.Handler().ServeHTTP(txt, req)
	if !strings.Contains(txt.Body.String(), "LATENCY REPORT (TOTAL)") {
		t.Fatalf("text report = %q", txt.Body.String())
	}
}

func TestPostIntentAndStaleSeq(t *testing.T) {
	s, in, _ := newTestServer(t)
	rec, out := do(t, s, http.MethodPost, "/intents", `{"seq":5,"market":"tok","side":"BUY","price":"0.49","size":10}`)
	if rec.Code != http.StatusAccepted || out["client_id"] == "" {
		t.Fatalf("%d %v", rec.Code, out)
	}
	if len(in.got) != 1 || in.got[0].Price() != 490 || in.got[0].Size() != 10 {
		t.Fatalf("submitted = %v", in.got)
	}

	_, out = do(t, s, http.MethodPost, "/intents", `{"seq":5,"market":"tok","side":"SELL","price":"0.5","size":1}`)
	if out["ignored"] != "stale_seq" || len(in.got) != 1 {
		t.Fatalf("stale seq accepted: %v", out)
	}

	// seq 0 is untracked
	rec, _ = do(t, s, http.MethodPost, "/intents", `{"market":"tok","side":"sell","price":0.51,"size":"2","priority":"critical"}`)
	if rec.Code != http.StatusAccepted || len(in.got) != 2 || !in.got[1].Critical() {
		t.Fatalf("%d %v", rec.Code, in.got)
	}
}

func TestRejectedIntentKeepsSeq(t *testing.T) {
	s, in, _ := newTestServer(t)
	rec, _ := do(t, s, http.MethodPost, "/intents", `{"seq":7,"market":"tok","side":"BUY","price":"abc","size":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad price code = %d", rec.Code)
	}
	rec, out := do(t, s, http.MethodPost, "/intents", `{"seq":7,"market":"tok","side":"BUY","price":"0.49","size":10}`)
	if rec.Code != http.StatusAccepted || out["ignored"] != nil || len(in.got) != 1 {
		t.Fatalf("corrected resend: %d %v submitted=%d", rec.Code, out, len(in.got))
	}
	if got := s.lastSeq.Load(); got != 7 {
		t.Fatalf("lastSeq = %d", got)
	}
}

func TestPostIntentRejectsBadInput(t *testing.T) {
	s, in, _ := newTestServer(t)
	for _, body := range []string{
		`{not json`,
		`{"market":"tok","side":"HOLD","price":"0.5","size":1}`,
		`{"market":"tok","side":"BUY","price":"abc","size":1}`,
		`{"market":"","side":"BUY","price":"0.5","size":1}`,
		`{"market":"tok","side":"BUY","price":"0.5","size":0}`,
		`{"market":"tok","side":"BUY","price":"0.5","size":1,"priority":"urgent"}`,
	} {
		if rec, _ := do(t, s, http.MethodPost, "/intents", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code %d", body, rec.Code)
		}
	}
	if len(in.got) != 0 {
		t.Fatalf("bad input submitted %d intents", len(in.got))
	}
}

func TestResyncDriftStatsCancel(t *testing.T) {
	s, _, tr := newTestServer(t)
	if rec, _ := do(t, s, http.MethodPost, "/books/tok/resync", ""); rec.Code != http.StatusAccepted || len(tr.markets) != 1 {
		t.Fatalf("resync code %d, triggers %v", rec.Code, tr.markets)
	}

	req := httptest.NewRequest(http.MethodGet, "/drift?market=tok", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var recs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil || len(recs) != 1 || recs[0]["levels"].(float64) != 2 {
		t.Fatalf("drift = %s", rec.Body)
	}

	if rec, out := do(t, s, http.MethodGet, "/stats", ""); rec.Code != http.StatusOK || out["queue_len"].(float64) != 0 {
		t.Fatalf("stats = %v", out)
	}

	if rec, out := do(t, s, http.MethodPost, "/markets/tok/cancel", ""); rec.Code != http.StatusBadGateway || out["ok"] != false {
		t.Fatalf("cancel = %d %v", rec.Code, out)
	}
}

func TestDisabledRoutes(t *testing.T) {
	s := NewServer("", Deps{Registry: data.NewRegistry()})
	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/latency"},
		{http.MethodGet, "/drift"},
		{http.MethodPost, "/intents"},
		{http.MethodPost, "/markets/x/cancel"},
	} {
		if rec, _ := do(t, s, r.method, r.path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: %d", r.method, r.path, rec.Code)
		}
	}
}

func TestPrometheusMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	for _, want := range []string{
		`maker_latency_seconds_count{stage="t_ack"} 1`,
		`maker_books{state="initialized"} 1`,
		`maker_books{state="uninitialized"} 1`,
		`maker_book_age_seconds{market="tok"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in\n%s", want, body)
		}
	}
}

func TestPrometheusCounters(t *testing.T) {
	reg := data.NewRegistry()
	s := NewServer("", Deps{Registry: reg, Counters: func() map[string]uint64 {
		return map[string]uint64{"sender_failed": 2}
	}})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `maker_events_total{name="sender_failed"} 2`) {
		t.Fatalf("body = %s", rec.Body)
	}
}
