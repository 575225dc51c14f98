package app

import (
	"errors"
	"strings"

	"Poly_Maker/internal/logger"
)

var ErrEmptyUniverse = errors.New("app: no markets configured")

// Universe is the set of token ids the engine maintains books for.
type Universe struct {
	Markets []string
}

// BuildUniverse trims and deduplicates the configured markets, keeping their
// order, and caps the set at max when max > 0.
func BuildUniverse(configured []string, max int) (Universe, error) {
	seen := make(map[string]struct{}, len(configured))
	out := make([]string, 0, len(configured))
	for _, m := range configured {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	if len(out) == 0 {
		return Universe{}, ErrEmptyUniverse
	}
	logger.For("app").Info("universe built", "markets", len(out), "configured", len(configured))
	return Universe{Markets: out}, nil
}
