package data

import (
	"sort"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

// Snapshot is an immutable view of one book. Bids are ordered best (highest)
// first, asks best (lowest) first. It is shared between goroutines as-is, so
// its slices never leave the type without being copied.
type Snapshot struct {
	market string
	bids   []model.Level
	asks   []model.Level
	tsNs   int64
	seq    uint64
}

func (s *Snapshot) Market() string     { return s.market }
func (s *Snapshot) TimestampNs() int64 { return s.tsNs }
func (s *Snapshot) Seq() uint64        { return s.seq }
func (s *Snapshot) BidCount() int      { return len(s.bids) }
func (s *Snapshot) AskCount() int      { return len(s.asks) }

func (s *Snapshot) Bids() []model.Level { return append([]model.Level(nil), s.bids...) }
func (s *Snapshot) Asks() []model.Level { return append([]model.Level(nil), s.asks...) }

// BidAt returns the i-th best bid.
func (s *Snapshot) BidAt(i int) (model.Level, bool) {
	if i < 0 || i >= len(s.bids) {
		return model.Level{}, false
	}
	return s.bids[i], true
}

func (s *Snapshot) AskAt(i int) (model.Level, bool) {
	if i < 0 || i >= len(s.asks) {
		return model.Level{}, false
	}
	return s.asks[i], true
}

func (s *Snapshot) BestBid() (model.Level, bool) { return s.BidAt(0) }
func (s *Snapshot) BestAsk() (model.Level, bool) { return s.AskAt(0) }

// BidSize is the resting size at price, 0 if the level is empty.
func (s *Snapshot) BidSize(p fixedpoint.Price) fixedpoint.Size {
	i := sort.Search(len(s.bids), func(i int) bool { return s.bids[i].Price <= p })
	if i < len(s.bids) && s.bids[i].Price == p {
		return s.bids[i].Size
	}
	return 0
}

func (s *Snapshot) AskSize(p fixedpoint.Price) fixedpoint.Size {
	i := sort.Search(len(s.asks), func(i int) bool { return s.asks[i].Price >= p })
	if i < len(s.asks) && s.asks[i].Price == p {
		return s.asks[i].Size
	}
	return 0
}

// Mid is the truncated integer midpoint of the best levels.
func (s *Snapshot) Mid() (fixedpoint.Price, bool) {
	bid, okb := s.BestBid()
	ask, oka := s.BestAsk()
	if !okb || !oka {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

func (s *Snapshot) Spread() (fixedpoint.Price, bool) {
	bid, okb := s.BestBid()
	ask, oka := s.BestAsk()
	if !okb || !oka {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Depth returns top-of-book. Missing sides are zero.
func (s *Snapshot) Depth() model.Depth {
	d := model.Depth{Market: s.market}
	if l, ok := s.BestBid(); ok {
		d.Bid, d.BidQty = l.Price, l.Size
	}
	if l, ok := s.BestAsk(); ok {
		d.Ask, d.AskQty = l.Price, l.Size
	}
	return d
}
