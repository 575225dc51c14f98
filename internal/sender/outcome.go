package sender

import "time"

type OutcomeKind string

const (
	Acknowledged OutcomeKind = "acknowledged"
	Failed       OutcomeKind = "failed"
)

// Outcome is the terminal state of one submitted intent.
type Outcome struct {
	Kind        OutcomeKind   `json:"kind"`
	Market      string        `json:"market"`
	Side        string        `json:"side"`
	Price       string        `json:"price"`
	Size        string        `json:"size"`
	Priority    string        `json:"priority"`
	ClientID    string        `json:"client_id"`
	OrderID     string        `json:"order_id,omitempty"`
	Err         string        `json:"error,omitempty"`
	SendLatency time.Duration `json:"send_latency_ns"`
	AckLatency  time.Duration `json:"ack_latency_ns"`
	At          time.Time     `json:"at"`
}

// OutcomeSink receives outcomes from submission goroutines. Publish must not
// block for long.
type OutcomeSink interface {
	Publish(o Outcome)
}
