package model

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/fixedpoint"
)

var (
	ErrInvalidIntent = errors.New("model: invalid intent")
	ErrInvalidSide   = errors.New("model: invalid side")
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// ParseSide accepts BUY/SELL in any case, plus bid/ask.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return Buy, nil
	case "SELL", "ASK":
		return Sell, nil
	}
	return Buy, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Priority orders intents at admission. Critical bypasses the per-market cap.
type Priority uint8

const (
	Normal Priority = iota
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return "normal"
}

// Intent is a desire to place one order. It is immutable except for the
// exchange order id, which is set once when the order is acknowledged.
type Intent struct {
	market    string
	side      Side
	price     fixedpoint.Price
	size      fixedpoint.Size
	priority  Priority
	createdNs int64
	clientID  uuid.UUID

	orderID atomic.Pointer[string]
}

type IntentOption func(*Intent)

// WithCreatedNs overrides the creation stamp (clock.Nanotime units).
func WithCreatedNs(ns int64) IntentOption { return func(i *Intent) { i.createdNs = ns } }

func WithClientID(id uuid.UUID) IntentOption { return func(i *Intent) { i.clientID = id } }

func NewIntent(market string, side Side, price fixedpoint.Price, size fixedpoint.Size, prio Priority, opts ...IntentOption) (*Intent, error) {
	if market == "" {
		return nil, fmt.Errorf("%w: empty market", ErrInvalidIntent)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price %d", ErrInvalidIntent, price)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidIntent, size)
	}
	if side != Buy && side != Sell {
		return nil, fmt.Errorf("%w: side %d", ErrInvalidSide, side)
	}
	in := &Intent{
		market:    market,
		side:      side,
		price:     price,
		size:      size,
		priority:  prio,
		createdNs: clock.Nanotime(),
		clientID:  uuid.New(),
	}
	for _, o := range opts {
		o(in)
	}
	return in, nil
}

func (i *Intent) Market() string          { return i.market }
func (i *Intent) Side() Side              { return i.side }
func (i *Intent) Price() fixedpoint.Price { return i.price }
func (i *Intent) Size() fixedpoint.Size   { return i.size }
func (i *Intent) Priority() Priority      { return i.priority }
func (i *Intent) CreatedNs() int64        { return i.createdNs }
func (i *Intent) ClientID() uuid.UUID     { return i.clientID }
func (i *Intent) Critical() bool          { return i.priority == Critical }

// OrderID returns the exchange id, or "" before acknowledgement.
func (i *Intent) OrderID() string {
	if p := i.orderID.Load(); p != nil {
		return *p
	}
	return ""
}

// SetOrderID records the exchange id. Only the first call wins.
func (i *Intent) SetOrderID(id string) bool {
	return i.orderID.CompareAndSwap(nil, &id)
}

func (i *Intent) String() string {
	return fmt.Sprintf("%s %s %s@%s prio=%s", i.market, i.side, i.size, i.price, i.priority)
}
