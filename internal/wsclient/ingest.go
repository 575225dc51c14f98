package wsclient

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/data"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
)

// Resyncer forces an out-of-band reconcile of one market.
type Resyncer interface {
	Trigger(market string)
}

type IngestStats struct {
	Frames    uint64
	Deltas    uint64
	Snapshots uint64
	Rejected  uint64
	Malformed uint64
}

// Ingestor applies canonical deltas to the registry in receive order.
type Ingestor struct {
	registry *data.Registry
	resync   Resyncer
	log      *slog.Logger

	frames, deltas, snapshots, rejected, malformed atomic.Uint64
}

func NewIngestor(registry *data.Registry, resync Resyncer) *Ingestor {
	return &Ingestor{registry: registry, resync: resync, log: logger.For("ingest")}
}

// HandleFrame parses and applies one raw feed frame.
func (in *Ingestor) HandleFrame(raw []byte) {
	in.frames.Add(1)
	deltas, err := Parse(raw, clock.Nanotime())
	if err != nil {
		in.malformed.Add(1)
		in.log.Warn("dropping malformed feed event", "err", err, "bytes", len(raw))
	}
	for _, d := range deltas {
		in.Apply(d)
	}
}

// Apply routes one delta. Full deltas replace the book; incremental ones that
// the book rejects turn into a resync request.
func (in *Ingestor) Apply(d model.Delta) {
	if d.Full {
		in.registry.GetOrCreate(d.Market).InitializeFromSnapshot(d.Bids, d.Asks)
		in.snapshots.Add(1)
		return
	}

	book, ok := in.registry.Get(d.Market)
	if !ok {
		// not one of ours
		return
	}
	err := book.ApplyDelta(d)
	if err == nil {
		in.deltas.Add(1)
		return
	}

	in.rejected.Add(1)
	switch {
	case errors.Is(err, data.ErrNotInitialized):
		in.log.Debug("delta before seed", "market", d.Market)
	case errors.Is(err, data.ErrSequenceGap), errors.Is(err, data.ErrOutOfOrder):
		in.log.Warn("sequence break", "market", d.Market, "err", err)
	default:
		in.log.Warn("delta rejected", "market", d.Market, "err", err)
	}
	if in.resync != nil {
		in.resync.Trigger(d.Market)
	}
}

// ResyncAll requests a reconcile of every registered market, e.g. after a
// reconnect when deltas may have been missed.
func (in *Ingestor) ResyncAll() {
	if in.resync == nil {
		return
	}
	for _, m := range in.registry.Markets() {
		in.resync.Trigger(m)
	}
}

func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Frames:    in.frames.Load(),
		Deltas:    in.deltas.Load(),
		Snapshots: in.snapshots.Load(),
		Rejected:  in.rejected.Load(),
		Malformed: in.malformed.Load(),
	}
}
