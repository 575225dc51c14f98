package clob

import (
	"github.com/shopspring/decimal"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

// OrderArgs is what a signer needs to produce a signed order.
type OrderArgs struct {
	TokenID   string          `json:"token_id"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	OrderType string          `json:"order_type"`
}

// payloadTemplate carries the fixed part of an order for one (market, side).
type payloadTemplate struct {
	tokenID   string
	side      string
	orderType string
}

func (t *payloadTemplate) build(price fixedpoint.Price, size fixedpoint.Size) OrderArgs {
	return OrderArgs{
		TokenID:   t.tokenID,
		Side:      t.side,
		Price:     price.Decimal(),
		Size:      size.Decimal(),
		OrderType: t.orderType,
	}
}

type templateKey struct {
	market    string
	side      model.Side
	orderType string
}

func (c *Client) template(market string, side model.Side) *payloadTemplate {
	k := templateKey{market: market, side: side, orderType: c.cfg.OrderType}
	if v, ok := c.templates.Load(k); ok {
		return v.(*payloadTemplate)
	}
	v, _ := c.templates.LoadOrStore(k, &payloadTemplate{
		tokenID:   market,
		side:      side.String(),
		orderType: c.cfg.OrderType,
	})
	return v.(*payloadTemplate)
}

func (c *Client) templateCount() int {
	n := 0
	c.templates.Range(func(_, _ any) bool { n++; return true })
	return n
}
