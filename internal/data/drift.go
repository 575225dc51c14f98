package data

import (
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"

	"Poly_Maker/internal/model"
)

// SideDrift counts level differences between local state and exchange truth.
type SideDrift struct {
	Added   int // present at the exchange, missing locally
	Removed int // present locally, gone at the exchange
	Resized int // same price, different size
}

func (s SideDrift) Total() int { return s.Added + s.Removed + s.Resized }

// Drift is what a reconcile corrected.
type Drift struct {
	Market         string
	WasInitialized bool
	Bids           SideDrift
	Asks           SideDrift
}

func (d Drift) Levels() int { return d.Bids.Total() + d.Asks.Total() }

func (d Drift) Zero() bool { return d.Levels() == 0 }

func (d Drift) String() string {
	return fmt.Sprintf("%s bids(+%d -%d ~%d) asks(+%d -%d ~%d)",
		d.Market,
		d.Bids.Added, d.Bids.Removed, d.Bids.Resized,
		d.Asks.Added, d.Asks.Removed, d.Asks.Resized)
}

func diffSide(local *treemap.Map, truth []model.Level) SideDrift {
	var sd SideDrift
	seen := make(map[int64]struct{}, len(truth))
	for _, l := range truth {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		p := int64(l.Price)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		v, ok := local.Get(p)
		switch {
		case !ok:
			sd.Added++
		case v.(int64) != int64(l.Size):
			sd.Resized++
		}
	}
	it := local.Iterator()
	for it.Next() {
		if _, ok := seen[it.Key().(int64)]; !ok {
			sd.Removed++
		}
	}
	return sd
}
