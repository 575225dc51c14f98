package fix

import (
	"fmt"
	"strconv"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/marketdatarequest"
	"github.com/quickfixgo/quickfix"

	"Poly_Maker/internal/clock"
	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
)

const (
	tagMsgType        quickfix.Tag = 35
	tagSymbol         quickfix.Tag = 55
	tagNoMDEntries    quickfix.Tag = 268
	tagMDUpdateAction quickfix.Tag = 279
	tagMDEntryType    quickfix.Tag = 269
	tagMDEntryPx      quickfix.Tag = 270
	tagMDEntrySize    quickfix.Tag = 271
	tagRptSeq         quickfix.Tag = 83

	msgTypeLogon       = "A"
	msgTypeSnapshot    = "W"
	msgTypeIncremental = "X"
	msgTypeExecReport  = "8"
	msgTypeMassCancel  = "r"

	entryBid   = "0"
	entryOffer = "1"
	actionDel  = "2"
)

func snapshotEntries() *quickfix.RepeatingGroup {
	return quickfix.NewRepeatingGroup(tagNoMDEntries, quickfix.GroupTemplate{
		quickfix.GroupElement(tagMDEntryType),
		quickfix.GroupElement(tagMDEntryPx),
		quickfix.GroupElement(tagMDEntrySize),
	})
}

func incrementalEntries() *quickfix.RepeatingGroup {
	return quickfix.NewRepeatingGroup(tagNoMDEntries, quickfix.GroupTemplate{
		quickfix.GroupElement(tagMDUpdateAction),
		quickfix.GroupElement(tagMDEntryType),
		quickfix.GroupElement(tagSymbol),
		quickfix.GroupElement(tagMDEntryPx),
		quickfix.GroupElement(tagMDEntrySize),
		quickfix.GroupElement(tagRptSeq),
	})
}

// marketDataRequest subscribes bids and offers, snapshot plus incremental.
func marketDataRequest(markets []string, depth int) marketdatarequest.MarketDataRequest {
	req := marketdatarequest.New(
		field.NewMDReqID("MAKER_BOOKS"),
		field.NewSubscriptionRequestType(enum.SubscriptionRequestType_SNAPSHOT_PLUS_UPDATES),
		field.NewMarketDepth(depth),
	)
	req.Set(field.NewMDUpdateType(enum.MDUpdateType_INCREMENTAL_REFRESH))
	req.Set(field.NewAggregatedBook(true))

	types := marketdatarequest.NewNoMDEntryTypesRepeatingGroup()
	bid := types.Add()
	bid.Set(field.NewMDEntryType(enum.MDEntryType_BID))
	ask := types.Add()
	ask.Set(field.NewMDEntryType(enum.MDEntryType_OFFER))
	req.SetGroup(types)

	syms := marketdatarequest.NewNoRelatedSymRepeatingGroup()
	for _, m := range markets {
		entry := syms.Add()
		entry.Set(field.NewSymbol(m))
	}
	req.SetGroup(syms)
	return req
}

// decodeMarketData turns a W into one full delta and an X into one delta per
// (symbol, RptSeq) run. Entries without RptSeq carry Seq 0 and are applied
// without gap detection; the session MsgSeqNum also counts admin messages so
// it cannot stand in for a book sequence.
func decodeMarketData(msg *quickfix.Message) ([]model.Delta, error) {
	msgType, _ := msg.Header.GetString(tagMsgType)
	recvNs := clock.Nanotime()

	if msgType == msgTypeSnapshot {
		sym, err := msg.Body.GetString(tagSymbol)
		if err != nil || sym == "" {
			return nil, fmt.Errorf("snapshot without symbol")
		}
		group := snapshotEntries()
		if err := msg.Body.GetGroup(group); err != nil {
			return nil, fmt.Errorf("%s: entries: %v", sym, err)
		}
		d := model.Delta{Market: sym, Full: true, RecvNs: recvNs}
		for i := 0; i < group.Len(); i++ {
			e := group.Get(i)
			typ, _ := e.GetString(tagMDEntryType)
			if typ != entryBid && typ != entryOffer {
				continue
			}
			lvl, err := entryLevel(e, false)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", sym, err)
			}
			if typ == entryBid {
				d.Bids = append(d.Bids, lvl)
			} else {
				d.Asks = append(d.Asks, lvl)
			}
		}
		return []model.Delta{d}, nil
	}

	msgSym, _ := msg.Body.GetString(tagSymbol)
	group := incrementalEntries()
	if err := msg.Body.GetGroup(group); err != nil {
		return nil, fmt.Errorf("incremental entries: %v", err)
	}

	var out []model.Delta
	last := make(map[string]int)
	for i := 0; i < group.Len(); i++ {
		e := group.Get(i)
		typ, _ := e.GetString(tagMDEntryType)
		if typ != entryBid && typ != entryOffer {
			continue
		}
		sym, _ := e.GetString(tagSymbol)
		if sym == "" {
			sym = msgSym
		}
		if sym == "" {
			return nil, fmt.Errorf("incremental entry %d without symbol", i)
		}
		action, _ := e.GetString(tagMDUpdateAction)
		lvl, err := entryLevel(e, action == actionDel)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
		var seq uint64
		if s, rerr := e.GetString(tagRptSeq); rerr == nil && s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: rpt seq %q", sym, s)
			}
			seq = n
		}

		idx, ok := last[sym]
		if !ok || out[idx].Seq != seq {
			out = append(out, model.Delta{Market: sym, Seq: seq, RecvNs: recvNs})
			idx = len(out) - 1
			last[sym] = idx
		}
		if typ == entryBid {
			out[idx].Bids = append(out[idx].Bids, lvl)
		} else {
			out[idx].Asks = append(out[idx].Asks, lvl)
		}
	}
	return out, nil
}

func entryLevel(e *quickfix.Group, deleted bool) (model.Level, error) {
	px, err := e.GetString(tagMDEntryPx)
	if err != nil {
		return model.Level{}, fmt.Errorf("entry without price")
	}
	p, perr := fixedpoint.ParsePrice(px)
	if perr != nil {
		return model.Level{}, perr
	}
	if deleted {
		return model.Level{Price: p}, nil
	}
	qty, err := e.GetString(tagMDEntrySize)
	if err != nil {
		return model.Level{}, fmt.Errorf("entry without size")
	}
	s, serr := fixedpoint.ParseSize(qty)
	if serr != nil {
		return model.Level{}, serr
	}
	return model.Level{Price: p, Size: s}, nil
}
