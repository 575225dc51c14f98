// Package events publishes dispatch outcomes and reconcile drift to Kafka.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/sender"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a fire-and-forget publisher. The writer runs in async mode so
// Publish never waits on the broker.
type Producer struct {
	writer     messageWriter
	orderTopic string
	driftTopic string
	log        *slog.Logger
}

type Config struct {
	Brokers    []string
	OrderTopic string
	DriftTopic string
}

func NewProducer(cfg Config) *Producer {
	log := logger.For("events")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka write failed", "messages", len(msgs), "err", err)
			}
		},
	}
	return newProducer(w, cfg, log)
}

func newProducer(w messageWriter, cfg Config, log *slog.Logger) *Producer {
	if cfg.OrderTopic == "" {
		cfg.OrderTopic = "maker.orders"
	}
	if cfg.DriftTopic == "" {
		cfg.DriftTopic = "maker.drift"
	}
	return &Producer{writer: w, orderTopic: cfg.OrderTopic, driftTopic: cfg.DriftTopic, log: log}
}

// Publish implements sender.OutcomeSink.
func (p *Producer) Publish(o sender.Outcome) {
	p.send(p.orderTopic, o.Market, o)
}

type driftEvent struct {
	Market         string         `json:"market"`
	WasInitialized bool           `json:"was_initialized"`
	Bids           data.SideDrift `json:"bids"`
	Asks           data.SideDrift `json:"asks"`
	At             time.Time      `json:"at"`
}

func (p *Producer) PublishDrift(d data.Drift) {
	p.send(p.driftTopic, d.Market, driftEvent{
		Market:         d.Market,
		WasInitialized: d.WasInitialized,
		Bids:           d.Bids,
		Asks:           d.Asks,
		At:             time.Now().UTC(),
	})
}

func (p *Producer) send(topic, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error("encode event", "topic", topic, "err", err)
		return
	}
	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
	})
	if err != nil {
		p.log.Warn("publish event", "topic", topic, "market", key, "err", err)
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
