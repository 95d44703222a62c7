package telescope

import (
	"context"
	"log/slog"
	"time"
)

type pruneStore interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// pruner deletes entries older than maxAge every interval. Failures are
// logged and retried on the next tick.
type pruner struct {
	store    pruneStore
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger
}

func newPruner(store pruneStore, interval, maxAge time.Duration, log *slog.Logger) *pruner {
	return &pruner{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		log:      log.With("task", "prune"),
	}
}

func (p *pruner) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.once(ctx)
		}
	}
}

func (p *pruner) once(ctx context.Context) {
	start := time.Now()
	deleted, err := p.store.Prune(ctx, p.maxAge)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("Failed to prune entries", "max_age", p.maxAge, "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("Pruned old entries",
			"deleted", deleted,
			"max_age", p.maxAge,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
