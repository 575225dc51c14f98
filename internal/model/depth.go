package model

import (
	"github.com/shopspring/decimal"

	"Poly_Maker/internal/fixedpoint"
)

// Level is one price level of a book side.
type Level struct {
	Price fixedpoint.Price
	Size  fixedpoint.Size
}

// Delta is the canonical book update. Every feed shape is resolved into this
// before it reaches the book. A Full delta replaces the book wholesale.
type Delta struct {
	Market string
	Seq    uint64 // 0 = untracked
	Bids   []Level
	Asks   []Level
	Full   bool
	RecvNs int64
}

// Empty reports whether the delta carries no levels at all.
func (d Delta) Empty() bool { return len(d.Bids) == 0 && len(d.Asks) == 0 }

// Depth represents top-of-book for one market.
type Depth struct {
	Market string
	Bid    fixedpoint.Price
	Ask    fixedpoint.Price
	BidQty fixedpoint.Size
	AskQty fixedpoint.Size
}

// Helper methods to convert to decimal for FIX fields and JSON
func (d *Depth) AskDecimal() decimal.Decimal    { return d.Ask.Decimal() }
func (d *Depth) BidDecimal() decimal.Decimal    { return d.Bid.Decimal() }
func (d *Depth) BidQtyDecimal() decimal.Decimal { return d.BidQty.Decimal() }
func (d *Depth) AskQtyDecimal() decimal.Decimal { return d.AskQty.Decimal() }
