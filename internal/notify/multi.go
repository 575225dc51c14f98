package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Multi sends to every notifier and joins the errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Throttle drops repeats of the same key inside the cooldown.
type Throttle struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(next Notifier, cooldown time.Duration) *Throttle {
	return &Throttle{next: next, cooldown: cooldown, now: time.Now, last: map[string]time.Time{}}
}

// SendKeyed reports whether the alert went out.
func (t *Throttle) SendKeyed(ctx context.Context, key, text string) (bool, error) {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return false, nil
	}
	t.last[key] = now
	t.mu.Unlock()
	return true, t.next.Send(ctx, text)
}

func (t *Throttle) Send(ctx context.Context, text string) error {
	_, err := t.SendKeyed(ctx, text, text)
	return err
}
