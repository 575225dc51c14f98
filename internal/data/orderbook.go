package data

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

var (
	ErrNotInitialized = errors.New("data: book not initialized")
	ErrSequenceGap    = errors.New("data: sequence gap")
	ErrOutOfOrder     = errors.New("data: out-of-order delta")
	ErrMalformedDelta = errors.New("data: malformed delta")
)

// Nanotime is the monotonic clock every book timestamp is taken from.
func Nanotime() int64 { return clock.Nanotime() }

func bidComparator(a, b interface{}) int { return -utils.Int64Comparator(a, b) }

// BookState is the local L2 book of one market. Writers serialise on mu and
// publish an immutable Snapshot; readers only ever touch the snapshot.
type BookState struct {
	market string

	mu          sync.Mutex
	bids        *treemap.Map // int64 price -> int64 size, best first
	asks        *treemap.Map
	lastSeq     uint64
	hasBaseline bool

	initialized     atomic.Bool
	snap            atomic.Pointer[Snapshot]
	lastUpdateNs    atomic.Int64
	lastReconcileNs atomic.Int64

	onUpdate func(market string)
}

func NewBookState(market string) *BookState {
	return newBookState(market, nil)
}

func newBookState(market string, onUpdate func(string)) *BookState {
	return &BookState{
		market:   market,
		bids:     treemap.NewWith(bidComparator),
		asks:     treemap.NewWith(utils.Int64Comparator),
		onUpdate: onUpdate,
	}
}

func (b *BookState) Market() string    { return b.market }
func (b *BookState) Initialized() bool { return b.initialized.Load() }

// ✅ full snapshot 적용 (REST seed / book event / FIX W)
func (b *BookState) InitializeFromSnapshot(bids, asks []model.Level) {
	b.mu.Lock()
	b.resetLocked(bids, asks)
	b.mu.Unlock()
	b.notify()
}

// Reconcile overwrites the book with exchange truth and returns how far the
// local state had drifted from it.
func (b *BookState) Reconcile(bids, asks []model.Level) Drift {
	b.mu.Lock()
	d := Drift{Market: b.market, WasInitialized: b.initialized.Load()}
	d.Bids = diffSide(b.bids, bids)
	d.Asks = diffSide(b.asks, asks)
	b.resetLocked(bids, asks)
	b.lastReconcileNs.Store(Nanotime())
	b.mu.Unlock()
	b.notify()
	return d
}

// ✅ incremental 적용
//
// Nothing is applied when an error is returned; the caller is expected to
// request a reconciliation for the market.
func (b *BookState) ApplyDelta(d model.Delta) error {
	if err := validateLevels(d.Bids); err != nil {
		return fmt.Errorf("%s bids: %w", b.market, err)
	}
	if err := validateLevels(d.Asks); err != nil {
		return fmt.Errorf("%s asks: %w", b.market, err)
	}

	b.mu.Lock()
	if !b.initialized.Load() {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotInitialized, b.market)
	}
	if d.Seq != 0 && b.hasBaseline {
		switch {
		case d.Seq <= b.lastSeq:
			last := b.lastSeq
			b.mu.Unlock()
			return fmt.Errorf("%w: %s seq=%d last=%d", ErrOutOfOrder, b.market, d.Seq, last)
		case d.Seq != b.lastSeq+1:
			last := b.lastSeq
			b.mu.Unlock()
			return fmt.Errorf("%w: %s seq=%d expected=%d", ErrSequenceGap, b.market, d.Seq, last+1)
		}
	}

	applySide(b.bids, d.Bids)
	applySide(b.asks, d.Asks)
	if d.Seq != 0 {
		b.lastSeq = d.Seq
		b.hasBaseline = true
	}
	b.publishLocked()
	b.mu.Unlock()

	b.notify()
	return nil
}

func validateLevels(levels []model.Level) error {
	for _, l := range levels {
		if l.Price <= 0 || l.Size < 0 {
			return fmt.Errorf("%w: price=%d size=%d", ErrMalformedDelta, l.Price, l.Size)
		}
	}
	return nil
}

func applySide(side *treemap.Map, levels []model.Level) {
	for _, l := range levels {
		if l.Size == 0 {
			side.Remove(int64(l.Price))
			continue
		}
		side.Put(int64(l.Price), int64(l.Size))
	}
}

func (b *BookState) resetLocked(bids, asks []model.Level) {
	b.bids.Clear()
	b.asks.Clear()
	for _, l := range bids {
		if l.Price > 0 && l.Size > 0 {
			b.bids.Put(int64(l.Price), int64(l.Size))
		}
	}
	for _, l := range asks {
		if l.Price > 0 && l.Size > 0 {
			b.asks.Put(int64(l.Price), int64(l.Size))
		}
	}
	b.lastSeq = 0
	b.hasBaseline = false
	b.initialized.Store(true)
	b.publishLocked()
}

func (b *BookState) publishLocked() {
	now := Nanotime()
	s := &Snapshot{
		market: b.market,
		bids:   levelsOf(b.bids),
		asks:   levelsOf(b.asks),
		tsNs:   now,
		seq:    b.lastSeq,
	}
	b.snap.Store(s)
	b.lastUpdateNs.Store(now)
}

func levelsOf(side *treemap.Map) []model.Level {
	out := make([]model.Level, 0, side.Size())
	it := side.Iterator()
	for it.Next() {
		out = append(out, model.Level{
			Price: fixedpoint.Price(it.Key().(int64)),
			Size:  fixedpoint.Size(it.Value().(int64)),
		})
	}
	return out
}

func (b *BookState) notify() {
	if b.onUpdate != nil {
		b.onUpdate(b.market)
	}
}

// Snapshot returns the latest published view, nil before initialization.
func (b *BookState) Snapshot() *Snapshot { return b.snap.Load() }

func (b *BookState) BestBid() (model.Level, bool) {
	if s := b.snap.Load(); s != nil {
		return s.BestBid()
	}
	return model.Level{}, false
}

func (b *BookState) BestAsk() (model.Level, bool) {
	if s := b.snap.Load(); s != nil {
		return s.BestAsk()
	}
	return model.Level{}, false
}

// Age is the time since the last mutation. A book that was never mutated has
// the maximum duration.
func (b *BookState) Age() time.Duration {
	ts := b.lastUpdateNs.Load()
	if ts == 0 {
		return time.Duration(math.MaxInt64)
	}
	return clock.Since(ts)
}

// AgeMillis is Age in milliseconds, +Inf before any mutation.
func (b *BookState) AgeMillis() float64 {
	if b.lastUpdateNs.Load() == 0 {
		return math.Inf(1)
	}
	return float64(b.Age()) / float64(time.Millisecond)
}

func (b *BookState) IsStale(maxAge time.Duration) bool {
	return b.Age() > maxAge
}

// LastReconcile reports the age of the last successful reconcile.
func (b *BookState) LastReconcile() (time.Duration, bool) {
	ts := b.lastReconcileNs.Load()
	if ts == 0 {
		return 0, false
	}
	return clock.Since(ts), true
}
