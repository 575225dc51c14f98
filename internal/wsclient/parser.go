package wsclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

var ErrMalformed = errors.New("wsclient: malformed message")

type fields map[string]json.RawMessage

// first returns the first present, non-null field among keys.
func (f fields) first(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	v, ok := f.first(keys...)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return strings.Trim(string(v), `"`)
}

// Parse turns one feed frame into canonical deltas. Frames may hold a single
// event or an array of events. Event types that carry no book state yield no
// deltas. A malformed event is reported and contributes nothing.
func Parse(raw []byte, recvNs int64) ([]model.Delta, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var (
			out  []model.Delta
			errs []error
		)
		for _, elem := range arr {
			ds, err := parseEvent(elem, recvNs)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, ds...)
		}
		return out, errors.Join(errs...)
	}
	return parseEvent(raw, recvNs)
}

func parseEvent(raw []byte, recvNs int64) ([]model.Delta, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch f.str("event_type", "type") {
	case "book":
		d, err := parseBookShape(f, recvNs)
		if err != nil {
			return nil, err
		}
		d.Full = true
		return []model.Delta{d}, nil
	case "price_change":
		return parsePriceChange(f, recvNs)
	case "tick_size_change", "last_trade_price", "best_bid_ask", "subscribed", "pong":
		return nil, nil
	}

	if _, ok := f.first("bids", "asks"); ok {
		d, err := parseBookShape(f, recvNs)
		if err != nil {
			return nil, err
		}
		return []model.Delta{d}, nil
	}
	return nil, nil
}

func parseBookShape(f fields, recvNs int64) (model.Delta, error) {
	d := model.Delta{Market: f.str("asset_id", "market", "token_id"), RecvNs: recvNs}
	if d.Market == "" {
		return d, fmt.Errorf("%w: missing market", ErrMalformed)
	}
	seq, err := parseSeq(f)
	if err != nil {
		return d, err
	}
	d.Seq = seq

	if v, ok := f.first("bids", "buys"); ok {
		if d.Bids, err = parseLevels(v); err != nil {
			return d, fmt.Errorf("%s bids: %w", d.Market, err)
		}
	}
	if v, ok := f.first("asks", "sells"); ok {
		if d.Asks, err = parseLevels(v); err != nil {
			return d, fmt.Errorf("%s asks: %w", d.Market, err)
		}
	}
	return d, nil
}

func parseSeq(f fields) (uint64, error) {
	v, ok := f.first("seq", "sequence")
	if !ok {
		return 0, nil
	}
	s := strings.Trim(string(v), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: seq %s", ErrMalformed, v)
	}
	return n, nil
}

type priceChange struct {
	AssetID string          `json:"asset_id"`
	Price   json.RawMessage `json:"price"`
	Size    json.RawMessage `json:"size"`
	Amount  json.RawMessage `json:"amount"`
	Side    string          `json:"side"`
}

// parsePriceChange accepts both the batched form (price_changes[] each with
// its own asset_id) and the older form (asset_id + changes[]).
func parsePriceChange(f fields, recvNs int64) ([]model.Delta, error) {
	var changes []priceChange
	if v, ok := f.first("price_changes", "changes"); ok {
		if err := json.Unmarshal(v, &changes); err != nil {
			return nil, fmt.Errorf("%w: price changes: %v", ErrMalformed, err)
		}
	}
	topAsset := f.str("asset_id")
	seq, err := parseSeq(f)
	if err != nil {
		return nil, err
	}

	byAsset := make(map[string]*model.Delta)
	var order []string
	for _, c := range changes {
		asset := c.AssetID
		if asset == "" {
			asset = topAsset
		}
		if asset == "" {
			return nil, fmt.Errorf("%w: price change without asset", ErrMalformed)
		}
		lvl, err := level(c.Price, firstRaw(c.Size, c.Amount))
		if err != nil {
			return nil, err
		}
		side, err := model.ParseSide(c.Side)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		d, ok := byAsset[asset]
		if !ok {
			d = &model.Delta{Market: asset, Seq: seq, RecvNs: recvNs}
			byAsset[asset] = d
			order = append(order, asset)
		}
		if side == model.Buy {
			d.Bids = append(d.Bids, lvl)
		} else {
			d.Asks = append(d.Asks, lvl)
		}
	}

	out := make([]model.Delta, 0, len(order))
	for _, a := range order {
		out = append(out, *byAsset[a])
	}
	return out, nil
}

func firstRaw(vs ...json.RawMessage) json.RawMessage {
	for _, v := range vs {
		if len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

// parseLevels accepts [{price, size|amount}] and [[price, size]].
func parseLevels(raw json.RawMessage) ([]model.Level, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: levels: %v", ErrMalformed, err)
	}
	out := make([]model.Level, 0, len(items))
	for _, it := range items {
		it = bytes.TrimSpace(it)
		var l model.Level
		var err error
		if len(it) > 0 && it[0] == '[' {
			var pair []json.RawMessage
			if err := json.Unmarshal(it, &pair); err != nil || len(pair) < 2 {
				return nil, fmt.Errorf("%w: level %s", ErrMalformed, it)
			}
			l, err = level(pair[0], pair[1])
		} else {
			var f fields
			if err := json.Unmarshal(it, &f); err != nil {
				return nil, fmt.Errorf("%w: level %s", ErrMalformed, it)
			}
			p, _ := f.first("price", "p")
			s, _ := f.first("size", "amount", "quantity")
			l, err = level(p, s)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func level(price, size json.RawMessage) (model.Level, error) {
	if len(price) == 0 || len(size) == 0 {
		return model.Level{}, fmt.Errorf("%w: level missing price or size", ErrMalformed)
	}
	p, err := fixedpoint.PriceFrom(scalar(price))
	if err != nil {
		return model.Level{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s, err := fixedpoint.SizeFrom(scalar(size))
	if err != nil {
		return model.Level{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return model.Level{Price: p, Size: s}, nil
}

// scalar returns a JSON string as string and anything else as json.Number,
// so numbers never pass through float64.
func scalar(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return json.Number(raw)
}
