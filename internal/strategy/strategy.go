package strategy

import (
	"Poly_Maker/internal/data"
	"Poly_Maker/internal/model"
)

// Strategy turns a fresh book snapshot into zero or more order intents.
// OnBook runs on the decision goroutine and must not block.
type Strategy interface {
	Name() string
	OnBook(snap *data.Snapshot) []*model.Intent
}

// Func adapts a plain function.
type Func func(snap *data.Snapshot) []*model.Intent

func (f Func) Name() string                               { return "func" }
func (f Func) OnBook(snap *data.Snapshot) []*model.Intent { return f(snap) }

// Watch never trades. It keeps the decision loop (and its latency series)
// running when the engine only maintains books.
type Watch struct{}

func (Watch) Name() string                          { return "watch" }
func (Watch) OnBook(*data.Snapshot) []*model.Intent { return nil }

// ByName resolves the strategies built into the binary.
func ByName(name string) (Strategy, bool) {
	switch name {
	case "", "watch", "none":
		return Watch{}, true
	}
	return nil, false
}
