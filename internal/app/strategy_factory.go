package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/strategy"
)

// Handle is one long-running unit the engine started. Stop must return once
// the unit has joined.
type Handle struct {
	Name string
	Stop func(ctx context.Context)
}

// ChooseStrategy resolves the configured strategy name. STRATEGY in the
// environment wins over the file.
func ChooseStrategy(configured string) (strategy.Strategy, error) {
	log := logger.For("app")
	source := "config"
	name := strings.ToLower(strings.TrimSpace(configured))
	if s := strings.ToLower(strings.TrimSpace(os.Getenv("STRATEGY"))); s != "" {
		name, source = s, "env"
	}
	st, ok := strategy.ByName(name)
	if !ok {
		return nil, fmt.Errorf("app: unknown strategy %q (source=%s)", name, source)
	}
	log.Info("strategy selected", "strategy", st.Name(), "source", source)
	return st, nil
}
