package sender

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"Poly_Maker/internal/fixedpoint"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
)

// Paper acknowledges every order locally after an optional delay. Used for
// dry runs and when no signer is configured.
type Paper struct {
	Delay time.Duration

	orders atomic.Uint64
	log    *slog.Logger
}

func NewPaper(delay time.Duration) *Paper {
	return &Paper{Delay: delay, log: logger.For("paper")}
}

func (p *Paper) CreateOrder(ctx context.Context, market string, side model.Side, price fixedpoint.Price, size fixedpoint.Size) (OrderAck, error) {
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return OrderAck{}, ctx.Err()
		case <-t.C:
		}
	}
	p.orders.Add(1)
	id := "paper-" + uuid.NewString()
	if p.log != nil {
		p.log.Info("paper order", "market", market, "side", side.String(), "price", price.String(), "size", size.String(), "order_id", id)
	}
	return OrderAck{OrderID: id, Status: "live"}, nil
}

func (p *Paper) Orders() uint64 { return p.orders.Load() }
