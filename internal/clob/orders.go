package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/sender"
)

type orderRequest struct {
	Order     json.RawMessage `json:"order"`
	Owner     string          `json:"owner"`
	OrderType string          `json:"orderType"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	AltID    string `json:"orderId"`
	Status   string `json:"status"`
}

// CreateOrder signs and posts a limit order. It implements sender.OrderClient.
func (c *Client) CreateOrder(ctx context.Context, market string, side model.Side, price fixedpoint.Price, size fixedpoint.Size) (sender.OrderAck, error) {
	if c.signer == nil {
		return sender.OrderAck{}, ErrNoSigner
	}
	args := c.template(market, side).build(price, size)
	signed, err := c.signer.SignOrder(ctx, args)
	if err != nil {
		return sender.OrderAck{}, fmt.Errorf("sign %s %s: %w", side, market, err)
	}

	owner := ""
	if c.creds != nil {
		owner = c.creds.APIKey
	}
	var resp orderResponse
	req := orderRequest{Order: signed, Owner: owner, OrderType: args.OrderType}
	if err := c.do(ctx, http.MethodPost, "/order", nil, req, true, &resp); err != nil {
		return sender.OrderAck{}, err
	}
	if !resp.Success {
		return sender.OrderAck{}, fmt.Errorf("%w: %s", ErrOrderRejected, resp.ErrorMsg)
	}
	id := resp.OrderID
	if id == "" {
		id = resp.AltID
	}
	return sender.OrderAck{OrderID: id, Status: resp.Status}, nil
}

type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// CancelAllForMarket cancels every open order in a condition market.
func (c *Client) CancelAllForMarket(ctx context.Context, market string) ([]string, error) {
	return c.cancelMarketOrders(ctx, map[string]string{"market": market})
}

// CancelAllForAsset cancels every open order on one outcome token.
func (c *Client) CancelAllForAsset(ctx context.Context, assetID string) ([]string, error) {
	return c.cancelMarketOrders(ctx, map[string]string{"asset_id": assetID})
}

func (c *Client) cancelMarketOrders(ctx context.Context, body map[string]string) ([]string, error) {
	var resp cancelResponse
	if err := c.do(ctx, http.MethodDelete, "/cancel-market-orders", nil, body, true, &resp); err != nil {
		return nil, err
	}
	for id, reason := range resp.NotCanceled {
		c.log.Warn("order not canceled", "order_id", id, "reason", reason)
	}
	return resp.Canceled, nil
}
