package fix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordermasscancelrequest"
	"github.com/quickfixgo/quickfix"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/model"
	"Poly_Maker/internal/sender"
)

var (
	ErrOrderRejected  = errors.New("fix: order rejected")
	ErrCancelRejected = errors.New("fix: mass cancel rejected")
)

const (
	tagClOrdID            quickfix.Tag = 11
	tagOrderID            quickfix.Tag = 37
	tagOrdStatus          quickfix.Tag = 39
	tagText               quickfix.Tag = 58
	tagMassCancelResponse quickfix.Tag = 531

	ordStatusRejected      = "8"
	massCancelRespRejected = "0"
)

type report struct {
	ack sender.OrderAck
	err error
}

// Gateway sends orders over the FIX session and blocks each caller until the
// matching ExecutionReport (by ClOrdID) or ctx ends.
type Gateway struct {
	app *App

	mu      sync.Mutex
	pending map[string]chan report
}

var _ sender.OrderClient = (*Gateway)(nil)

func newGateway(app *App) *Gateway {
	return &Gateway{app: app, pending: make(map[string]chan report)}
}

func (g *Gateway) CreateOrder(ctx context.Context, market string, side model.Side, price fixedpoint.Price, size fixedpoint.Size) (sender.OrderAck, error) {
	id, ok := g.app.sessionID()
	if !ok {
		return sender.OrderAck{}, ErrNotLoggedOn
	}

	clOrdID, ok := sender.ClientID(ctx)
	if !ok {
		clOrdID = uuid.NewString()
	}
	fixSide := enum.Side_BUY
	if side == model.Sell {
		fixSide = enum.Side_SELL
	}

	order := newordersingle.New(
		field.NewClOrdID(clOrdID),
		field.NewSide(fixSide),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_LIMIT),
	)
	order.Set(field.NewSymbol(market))
	order.Set(field.NewTimeInForce(enum.TimeInForce_GOOD_TILL_CANCEL))
	order.Set(field.NewPrice(price.Decimal(), -price.Decimal().Exponent()))
	order.Set(field.NewOrderQty(size.Decimal(), 0))

	ch := g.register(clOrdID)
	defer g.unregister(clOrdID)

	if err := g.app.send(order, id); err != nil {
		return sender.OrderAck{}, fmt.Errorf("fix: send new order: %w", err)
	}

	select {
	case r := <-ch:
		return r.ack, r.err
	case <-ctx.Done():
		return sender.OrderAck{}, ctx.Err()
	}
}

// CancelAllForMarket sends an OrderMassCancelRequest for one symbol and waits
// for the OrderMassCancelReport. The report carries no order ids.
func (g *Gateway) CancelAllForMarket(ctx context.Context, market string) ([]string, error) {
	id, ok := g.app.sessionID()
	if !ok {
		return nil, ErrNotLoggedOn
	}

	clOrdID := uuid.NewString()
	req := ordermasscancelrequest.New(
		field.NewClOrdID(clOrdID),
		field.NewMassCancelRequestType(enum.MassCancelRequestType_CANCEL_ORDERS_FOR_A_SECURITY),
		field.NewTransactTime(time.Now()),
	)
	req.Set(field.NewSymbol(market))

	ch := g.register(clOrdID)
	defer g.unregister(clOrdID)

	if err := g.app.send(req, id); err != nil {
		return nil, fmt.Errorf("fix: send mass cancel: %w", err)
	}
	select {
	case r := <-ch:
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) register(clOrdID string) chan report {
	ch := make(chan report, 1)
	g.mu.Lock()
	g.pending[clOrdID] = ch
	g.mu.Unlock()
	return ch
}

func (g *Gateway) unregister(clOrdID string) {
	g.mu.Lock()
	delete(g.pending, clOrdID)
	g.mu.Unlock()
}

func (g *Gateway) deliver(clOrdID string, r report) bool {
	g.mu.Lock()
	ch, ok := g.pending[clOrdID]
	if ok {
		delete(g.pending, clOrdID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

func (g *Gateway) onExecutionReport(msg *quickfix.Message) {
	clOrdID, _ := msg.Body.GetString(tagClOrdID)
	if clOrdID == "" {
		return
	}
	status, _ := msg.Body.GetString(tagOrdStatus)
	orderID, _ := msg.Body.GetString(tagOrderID)

	r := report{ack: sender.OrderAck{OrderID: orderID, Status: status}}
	if status == ordStatusRejected {
		text, _ := msg.Body.GetString(tagText)
		r = report{err: fmt.Errorf("%w: %s", ErrOrderRejected, text)}
	}
	if !g.deliver(clOrdID, r) {
		// later fills and cancels of already acknowledged orders
		g.app.log.Debug("execution report", "cl_ord_id", clOrdID, "order_id", orderID, "status", status)
	}
}

func (g *Gateway) onMassCancelReport(msg *quickfix.Message) {
	clOrdID, _ := msg.Body.GetString(tagClOrdID)
	resp, _ := msg.Body.GetString(tagMassCancelResponse)
	var r report
	if resp == massCancelRespRejected {
		text, _ := msg.Body.GetString(tagText)
		r.err = fmt.Errorf("%w: %s", ErrCancelRejected, text)
	}
	g.deliver(clOrdID, r)
}

// failAll releases every waiter, e.g. on logout.
func (g *Gateway) failAll(err error) {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[string]chan report)
	g.mu.Unlock()
	for _, ch := range pending {
		ch <- report{err: err}
	}
}
