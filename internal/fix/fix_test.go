package fix

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quickfixgo/quickfix"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/sender"
)

type entry map[quickfix.Tag]string

func buildMessage(msgType, symbol string, group *quickfix.RepeatingGroup, entries []entry, order []quickfix.Tag) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetField(tagMsgType, quickfix.FIXString(msgType))
	if symbol != "" {
		msg.Body.SetField(tagSymbol, quickfix.FIXString(symbol))
	}
	for _, e := range entries {
		g := group.Add()
		for _, t := range order {
			if v, ok := e[t]; ok {
				g.SetField(t, quickfix.FIXString(v))
			}
		}
	}
	msg.Body.SetGroup(group)
	return msg
}

var (
	snapOrder = []quickfix.Tag{tagMDEntryType, tagMDEntryPx, tagMDEntrySize}
	incrOrder = []quickfix.Tag{tagMDUpdateAction, tagMDEntryType, tagSymbol, tagMDEntryPx, tagMDEntrySize, tagRptSeq}
)

type captureSink struct {
	mu     sync.Mutex
	deltas []model.Delta
}

func (c *captureSink) Apply(d model.Delta) {
	c.mu.Lock()
	c.deltas = append(c.deltas, d)
	c.mu.Unlock()
}

func TestDecodeSnapshot(t *testing.T) {
	msg := buildMessage(msgTypeSnapshot, "tok", snapshotEntries(), []entry{
		{tagMDEntryType: entryBid, tagMDEntryPx: "0.48", tagMDEntrySize: "10"},
		{tagMDEntryType: entryOffer, tagMDEntryPx: "0.52", tagMDEntrySize: "7"},
		{tagMDEntryType: "2", tagMDEntryPx: "0.50", tagMDEntrySize: "1"},
	}, snapOrder)

	ds, err := decodeMarketData(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || !ds[0].Full || ds[0].Market != "tok" {
		t.Fatalf("deltas = %+v", ds)
	}
	d := ds[0]
	if len(d.Bids) != 1 || d.Bids[0] != (model.Level{Price: fixedpoint.MustPrice("0.48"), Size: 10}) {
		t.Fatalf("bids = %+v", d.Bids)
	}
	if len(d.Asks) != 1 || d.Asks[0].Size != 7 {
		t.Fatalf("asks = %+v", d.Asks)
	}
}

func TestDecodeIncrementalGroupsBySymbolAndSeq(t *testing.T) {
	msg := buildMessage(msgTypeIncremental, "", incrementalEntries(), []entry{
		{tagMDUpdateAction: "0", tagMDEntryType: entryBid, tagSymbol: "a", tagMDEntryPx: "0.40", tagMDEntrySize: "5", tagRptSeq: "11"},
		{tagMDUpdateAction: "1", tagMDEntryType: entryOffer, tagSymbol: "a", tagMDEntryPx: "0.45", tagMDEntrySize: "2", tagRptSeq: "11"},
		{tagMDUpdateAction: "2", tagMDEntryType: entryBid, tagSymbol: "b", tagMDEntryPx: "0.30", tagRptSeq: "4"},
		{tagMDUpdateAction: "0", tagMDEntryType: entryBid, tagSymbol: "a", tagMDEntryPx: "0.41", tagMDEntrySize: "1", tagRptSeq: "12"},
	}, incrOrder)

	ds, err := decodeMarketData(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 3 {
		t.Fatalf("deltas = %+v", ds)
	}
	if ds[0].Market != "a" || ds[0].Seq != 11 || len(ds[0].Bids) != 1 || len(ds[0].Asks) != 1 || ds[0].Full {
		t.Fatalf("first = %+v", ds[0])
	}
	if ds[1].Market != "b" || ds[1].Seq != 4 || ds[1].Bids[0].Size != 0 {
		t.Fatalf("delete = %+v", ds[1])
	}
	if ds[2].Market != "a" || ds[2].Seq != 12 {
		t.Fatalf("third = %+v", ds[2])
	}
}

func TestDecodeRejectsBadPrice(t *testing.T) {
	msg := buildMessage(msgTypeIncremental, "tok", incrementalEntries(), []entry{
		{tagMDUpdateAction: "0", tagMDEntryType: entryBid, tagMDEntryPx: "abc", tagMDEntrySize: "5"},
	}, incrOrder)
	if _, err := decodeMarketData(msg); err == nil {
		t.Fatal("want error")
	}
}

func TestFromAppForwardsToSink(t *testing.T) {
	sink := &captureSink{}
	app := NewApp(Config{}, sink)
	msg := buildMessage(msgTypeIncremental, "tok", incrementalEntries(), []entry{
		{tagMDUpdateAction: "0", tagMDEntryType: entryOffer, tagMDEntryPx: "0.6", tagMDEntrySize: "3"},
	}, incrOrder)
	if rej := app.FromApp(msg, quickfix.SessionID{}); rej != nil {
		t.Fatal(rej)
	}
	if len(sink.deltas) != 1 || sink.deltas[0].Market != "tok" || sink.deltas[0].Seq != 0 {
		t.Fatalf("deltas = %+v", sink.deltas)
	}
}

func loggedOn(app *App, send func(quickfix.Messagable, quickfix.SessionID) error) {
	app.send = send
	app.OnLogon(quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "MAKER", TargetCompID: "VENUE"})
}

func execReport(clOrdID, orderID, status string) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetField(tagMsgType, quickfix.FIXString(msgTypeExecReport))
	msg.Body.SetField(tagClOrdID, quickfix.FIXString(clOrdID))
	msg.Body.SetField(tagOrderID, quickfix.FIXString(orderID))
	msg.Body.SetField(tagOrdStatus, quickfix.FIXString(status))
	return msg
}

func TestGatewayCreateOrderAck(t *testing.T) {
	app := NewApp(Config{Markets: []string{"tok"}}, &captureSink{})
	var sent []*quickfix.Message
	loggedOn(app, func(m quickfix.Messagable, id quickfix.SessionID) error {
		msg := m.ToMessage()
		sent = append(sent, msg)
		if mt, _ := msg.Header.GetString(tagMsgType); mt == "D" {
			clOrdID, _ := msg.Body.GetString(tagClOrdID)
			app.FromApp(execReport(clOrdID, "ord-1", "0"), id)
		}
		return nil
	})

	ack, err := app.Gateway().CreateOrder(context.Background(), "tok", model.Buy, fixedpoint.MustPrice("0.51"), 20)
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID != "ord-1" {
		t.Fatalf("ack = %+v", ack)
	}
	// market data request on logon, then the order
	if len(sent) != 2 {
		t.Fatalf("sent %d messages", len(sent))
	}
	order := sent[1]
	if sym, _ := order.Body.GetString(tagSymbol); sym != "tok" {
		t.Fatalf("symbol = %q", sym)
	}
	px, _ := order.Body.GetString(quickfix.Tag(44))
	if p, err := fixedpoint.ParsePrice(px); err != nil || p != fixedpoint.MustPrice("0.51") {
		t.Fatalf("price = %q", px)
	}
}

func TestGatewayUsesIntentClientID(t *testing.T) {
	app := NewApp(Config{}, &captureSink{})
	var clOrdID string
	loggedOn(app, func(m quickfix.Messagable, id quickfix.SessionID) error {
		msg := m.ToMessage()
		clOrdID, _ = msg.Body.GetString(tagClOrdID)
		app.FromApp(execReport(clOrdID, "ord-9", "0"), id)
		return nil
	})

	ctx := sender.WithClientID(context.Background(), "4b1c2f0e-0000-4000-8000-000000000001")
	if _, err := app.Gateway().CreateOrder(ctx, "tok", model.Buy, 500, 1); err != nil {
		t.Fatal(err)
	}
	if clOrdID != "4b1c2f0e-0000-4000-8000-000000000001" {
		t.Fatalf("ClOrdID = %q", clOrdID)
	}
}

func TestGatewayRejected(t *testing.T) {
	app := NewApp(Config{}, &captureSink{})
	loggedOn(app, func(m quickfix.Messagable, id quickfix.SessionID) error {
		msg := m.ToMessage()
		clOrdID, _ := msg.Body.GetString(tagClOrdID)
		app.FromApp(execReport(clOrdID, "", ordStatusRejected), id)
		return nil
	})
	_, err := app.Gateway().CreateOrder(context.Background(), "tok", model.Sell, fixedpoint.MustPrice("0.5"), 1)
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestGatewayNotLoggedOn(t *testing.T) {
	app := NewApp(Config{}, &captureSink{})
	if _, err := app.Gateway().CreateOrder(context.Background(), "tok", model.Buy, 500, 1); !errors.Is(err, ErrNotLoggedOn) {
		t.Fatalf("err = %v", err)
	}
}

func TestGatewayLogoutReleasesWaiters(t *testing.T) {
	app := NewApp(Config{}, &captureSink{})
	loggedOn(app, func(quickfix.Messagable, quickfix.SessionID) error { return nil })

	errc := make(chan error, 1)
	go func() {
		_, err := app.Gateway().CreateOrder(context.Background(), "tok", model.Buy, 500, 1)
		errc <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		app.gw.mu.Lock()
		n := len(app.gw.pending)
		app.gw.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("order never pending")
		}
		time.Sleep(time.Millisecond)
	}
	app.OnLogout(quickfix.SessionID{})

	select {
	case err := <-errc:
		if !errors.Is(err, ErrNotLoggedOn) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestGatewayMassCancel(t *testing.T) {
	app := NewApp(Config{}, &captureSink{})
	loggedOn(app, func(m quickfix.Messagable, id quickfix.SessionID) error {
		msg := m.ToMessage()
		clOrdID, _ := msg.Body.GetString(tagClOrdID)
		rep := quickfix.NewMessage()
		rep.Header.SetField(tagMsgType, quickfix.FIXString(msgTypeMassCancel))
		rep.Body.SetField(tagClOrdID, quickfix.FIXString(clOrdID))
		rep.Body.SetField(tagMassCancelResponse, quickfix.FIXString(massCancelRespRejected))
		app.FromApp(rep, id)
		return nil
	})
	if _, err := app.Gateway().CancelAllForMarket(context.Background(), "tok"); !errors.Is(err, ErrCancelRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogonPasswordDeterministic(t *testing.T) {
	if logonPassword("1.abc", "s") != logonPassword("1.abc", "s") {
		t.Fatal("password must depend only on raw data and secret")
	}
	if logonPassword("1.abc", "s") == logonPassword("1.abc", "t") {
		t.Fatal("password must depend on secret")
	}
}
