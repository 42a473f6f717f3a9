package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/memory/postgres"
)

// OpenStore returns the transcript store selected by cfg wrapped in a
// [memory.Guard], plus a function releasing it. The none kind yields a nil
// guard.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (*memory.Guard, func(), error) {
	switch cfg.Kind {
	case config.StoreNone:
		return nil, func() {}, nil
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.DSN, postgres.WithMaxConns(cfg.MaxConns))
		if err != nil {
			return nil, nil, fmt.Errorf("app: open store: %w", err)
		}
		return memory.NewGuard(pg), pg.Close, nil
	default:
		return memory.NewGuard(memory.NewMemoryStore()), func() {}, nil
	}
}
