// Package clob is the REST surface of the exchange used by the engine: book
// snapshots for reconciliation, order posting and bulk cancels.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"Poly_Maker/internal/auth"
	"Poly_Maker/internal/infra"
	"Poly_Maker/internal/logger"
)

var (
	ErrAPIFailure    = errors.New("clob: api error")
	ErrNoSigner      = errors.New("clob: no order signer configured")
	ErrOrderRejected = errors.New("clob: order rejected")
)

type Config struct {
	BaseURL      string
	HTTPTimeout  time.Duration
	BookCacheTTL time.Duration
	RatePerSec   float64
	Burst        int
	OrderType    string // GTC, GTD, FOK
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://clob.polymarket.com",
		HTTPTimeout:  10 * time.Second,
		BookCacheTTL: 500 * time.Millisecond,
		RatePerSec:   10,
		Burst:        5,
		OrderType:    "GTC",
	}
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	creds      *auth.L2
	signer     OrderSigner
	limiter    *rate.Limiter
	breaker    *infra.CircuitBreaker
	log        *slog.Logger

	cacheMu   sync.Mutex
	bookCache map[string]cachedBook

	templates sync.Map // templateKey -> *payloadTemplate
}

type Option func(*Client)

func WithCredentials(c auth.L2) Option     { return func(cl *Client) { cl.creds = &c } }
func WithSigner(s OrderSigner) Option      { return func(cl *Client) { cl.signer = s } }
func WithHTTPClient(h *http.Client) Option { return func(cl *Client) { cl.httpClient = h } }
func WithBreaker(b *infra.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

func New(cfg Config, opts ...Option) *Client {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = d.HTTPTimeout
	}
	if cfg.BookCacheTTL < 0 {
		cfg.BookCacheTTL = 0
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = d.RatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.OrderType == "" {
		cfg.OrderType = d.OrderType
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker:    infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("clob")),
		log:        logger.For("clob"),
		bookCache:  make(map[string]cachedBook),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends one request through the limiter and breaker and decodes a 2xx
// JSON body into result. Authenticated requests are signed over body.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any, signed bool, result any) error {
	var raw []byte
	if body != nil {
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		raw = bytes.TrimSpace(buf.Bytes())
	}

	reqURL := c.cfg.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed && c.creds == nil {
		return auth.ErrMissingCredentials
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	// POLY_TIMESTAMP must not age while the request waits for a token
	if signed {
		if err := c.creds.Sign(req, raw); err != nil {
			return err
		}
	}

	// Only transport errors and 5xx count against the breaker; a 4xx is the
	// caller's problem, not the endpoint's.
	var apiErr error
	err = c.breaker.Do(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			e := fmt.Errorf("%w: %s %s: %d %s", ErrAPIFailure, method, endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
			if resp.StatusCode >= 500 {
				return e
			}
			apiErr = e
			return nil
		}
		if result != nil && len(b) > 0 {
			if err := json.Unmarshal(b, result); err != nil {
				apiErr = fmt.Errorf("decode %s: %w", endpoint, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return apiErr
}
