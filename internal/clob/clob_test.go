package clob

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Poly_Maker/internal/auth"
	"Poly_Maker/internal/infra"
	"Poly_Maker/internal/model"
)

func testCreds() auth.L2 {
	return auth.L2{
		Address:    "0xabc",
		APIKey:     "api-key",
		Secret:     base64.URLEncoding.EncodeToString([]byte("secret")),
		Passphrase: "pp",
	}
}

type staticSigner struct{ got OrderArgs }

func (s *staticSigner) SignOrder(_ context.Context, args OrderArgs) (json.RawMessage, error) {
	s.got = args
	return json.RawMessage(`{"salt":1,"signature":"0xsig"}`), nil
}

func TestGetOrderBookParsesAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "tok1" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"market":"0xc","asset_id":"tok1",
			"bids":[{"price":"0.48","size":"100"},{"price":"0.47","size":"20.5"}],
			"asks":[{"price":"0.52","size":"10"},{"price":"0.53","size":"0.4"}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BookCacheTTL: time.Minute})
	bids, asks, err := c.GetOrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 2 || bids[0].Price != 480 || bids[1].Size != 20 || asks[0].Price != 520 {
		t.Fatalf("bids=%v asks=%v", bids, asks)
	}
	if len(asks) != 2 || asks[1].Size != 1 {
		t.Fatalf("bids=%v asks=%v", bids, asks)
	}
	if _, _, err := c.GetOrderBook(context.Background(), "tok1"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("cache miss: hits=%d", hits.Load())
	}
	c.InvalidateBook("tok1")
	_, _, _ = c.GetOrderBook(context.Background(), "tok1")
	if hits.Load() != 2 {
		t.Fatalf("invalidate ignored: hits=%d", hits.Load())
	}
}

func TestGetOrderBookMalformedPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bids":[{"price":"abc","size":"1"}],"asks":[]}`)
	}))
	defer srv.Close()
	if _, _, err := New(Config{BaseURL: srv.URL}).GetOrderBook(context.Background(), "x"); err == nil {
		t.Fatal("malformed price accepted")
	}
}

func TestBreakerOpensOn5xxOnly(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	br := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{Name: "t", FailureThreshold: 2, Timeout: time.Hour})
	c := New(Config{BaseURL: srv.URL, BookCacheTTL: -1}, WithBreaker(br))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := c.GetOrderBook(ctx, "x"); !errors.Is(err, ErrAPIFailure) {
			t.Fatalf("want ErrAPIFailure, got %v", err)
		}
	}
	if br.State() != infra.StateClosed {
		t.Fatal("4xx must not open the breaker")
	}
	status = http.StatusBadGateway
	_, _, _ = c.GetOrderBook(ctx, "x")
	_, _, _ = c.GetOrderBook(ctx, "x")
	if _, _, err := c.GetOrderBook(ctx, "x"); !errors.Is(err, infra.ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
}

func TestCreateOrder(t *testing.T) {
	var body orderRequest
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			http.NotFound(w, r)
			return
		}
		sig = r.Header.Get("POLY_SIGNATURE")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"success":true,"orderID":"0xorder","status":"live"}`)
	}))
	defer srv.Close()

	s := &staticSigner{}
	c := New(Config{BaseURL: srv.URL}, WithCredentials(testCreds()), WithSigner(s))
	ack, err := c.CreateOrder(context.Background(), "tok1", model.Sell, 534, 25)
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID != "0xorder" || ack.Status != "live" {
		t.Fatalf("ack = %+v", ack)
	}
	if sig == "" || body.Owner != "api-key" || body.OrderType != "GTC" {
		t.Fatalf("request sig=%q body=%+v", sig, body)
	}
	if s.got.TokenID != "tok1" || s.got.Side != "SELL" || s.got.Price.String() != "0.534" || s.got.Size.String() != "25" {
		t.Fatalf("signer args = %+v", s.got)
	}

	_, _ = c.CreateOrder(context.Background(), "tok1", model.Sell, 530, 1)
	_, _ = c.CreateOrder(context.Background(), "tok1", model.Buy, 530, 1)
	if n := c.templateCount(); n != 2 {
		t.Fatalf("templates = %d, want one per (market, side)", n)
	}
}

func TestCreateOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"errorMsg":"not enough balance"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, WithCredentials(testCreds()), WithSigner(&staticSigner{}))
	if _, err := c.CreateOrder(context.Background(), "tok1", model.Buy, 500, 1); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("want ErrOrderRejected, got %v", err)
	}
	if _, err := New(Config{BaseURL: srv.URL}).CreateOrder(context.Background(), "t", model.Buy, 1, 1); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("want ErrNoSigner, got %v", err)
	}
}

func TestCancelAll(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/cancel-market-orders" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"canceled":["a","b"],"not_canceled":{"c":"matched"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, WithCredentials(testCreds()))
	ids, err := c.CancelAllForMarket(context.Background(), "0xcond")
	if err != nil || len(ids) != 2 || got["market"] != "0xcond" {
		t.Fatalf("ids=%v err=%v body=%v", ids, err, got)
	}
	if _, err := c.CancelAllForAsset(context.Background(), "tok9"); err != nil || got["asset_id"] != "tok9" {
		t.Fatalf("asset cancel body=%v err=%v", got, err)
	}
	if _, err := New(Config{BaseURL: srv.URL}).CancelAllForMarket(context.Background(), "x"); !errors.Is(err, auth.ErrMissingCredentials) {
		t.Fatalf("want ErrMissingCredentials, got %v", err)
	}
}

func TestSignedAfterRateLimitWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"canceled":[]}`)
	}))
	defer srv.Close()

	var stamps []time.Time
	creds := testCreds().WithClock(func() time.Time {
		now := time.Now()
		stamps = append(stamps, now)
		return now
	})
	c := New(Config{BaseURL: srv.URL, RatePerSec: 5, Burst: 1}, WithCredentials(creds))

	if _, err := c.CancelAllForMarket(context.Background(), "m"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := c.CancelAllForMarket(context.Background(), "m"); err != nil {
		t.Fatal(err)
	}
	if len(stamps) != 2 {
		t.Fatalf("signed %d times", len(stamps))
	}
	// the second call waits ~200ms for a token; the timestamp must come after
	if waited := stamps[1].Sub(start); waited < 150*time.Millisecond {
		t.Fatalf("request signed %v after call, before the limiter released it", waited)
	}
}

func TestRemoteSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a OrderArgs
		_ = json.NewDecoder(r.Body).Decode(&a)
		if a.TokenID != "tok1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"signature":"0x1"}`)
	}))
	defer srv.Close()

	raw, err := NewRemoteSigner(srv.URL).SignOrder(context.Background(), OrderArgs{TokenID: "tok1"})
	if err != nil || string(raw) != `{"signature":"0x1"}` {
		t.Fatalf("raw=%s err=%v", raw, err)
	}
	if _, err := NewRemoteSigner(srv.URL).SignOrder(context.Background(), OrderArgs{}); err == nil {
		t.Fatal("4xx accepted")
	}
}
