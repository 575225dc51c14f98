package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

type orderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []orderSummary `json:"bids"`
	Asks      []orderSummary `json:"asks"`
	TickSize  string         `json:"tick_size"`
}

type cachedBook struct {
	bids, asks []model.Level
	at         time.Time
}

// GetOrderBook returns the exchange book of one token. Results younger than
// BookCacheTTL are served from memory.
func (c *Client) GetOrderBook(ctx context.Context, market string) ([]model.Level, []model.Level, error) {
	if bids, asks, ok := c.cached(market); ok {
		return bids, asks, nil
	}

	var resp bookResponse
	params := url.Values{"token_id": {market}}
	if err := c.do(ctx, http.MethodGet, "/book", params, nil, false, &resp); err != nil {
		return nil, nil, err
	}

	bids, err := toLevels(resp.Bids)
	if err != nil {
		return nil, nil, fmt.Errorf("book %s bids: %w", market, err)
	}
	asks, err := toLevels(resp.Asks)
	if err != nil {
		return nil, nil, fmt.Errorf("book %s asks: %w", market, err)
	}

	if c.cfg.BookCacheTTL > 0 {
		c.cacheMu.Lock()
		c.bookCache[market] = cachedBook{bids: bids, asks: asks, at: time.Now()}
		c.cacheMu.Unlock()
	}
	return bids, asks, nil
}

// InvalidateBook drops a cached snapshot.
func (c *Client) InvalidateBook(market string) {
	c.cacheMu.Lock()
	delete(c.bookCache, market)
	c.cacheMu.Unlock()
}

func (c *Client) cached(market string) ([]model.Level, []model.Level, bool) {
	if c.cfg.BookCacheTTL <= 0 {
		return nil, nil, false
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	cb, ok := c.bookCache[market]
	if !ok || time.Since(cb.at) >= c.cfg.BookCacheTTL {
		return nil, nil, false
	}
	return cb.bids, cb.asks, true
}

func toLevels(in []orderSummary) ([]model.Level, error) {
	out := make([]model.Level, 0, len(in))
	for _, s := range in {
		p, err := fixedpoint.ParsePrice(s.Price)
		if err != nil {
			return nil, err
		}
		sz, err := fixedpoint.ParseSize(s.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Level{Price: p, Size: sz})
	}
	return out, nil
}
