package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/infra/storage"
)

// Pruner deletes persisted SLA history based on retention policy.
type Pruner struct {
	retention time.Duration
	repos     []storage.RetentionRepository
	clock     clock.Clock
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A retention of zero disables pruning.
func NewPruner(retention time.Duration, clk clock.Clock, repos ...storage.RetentionRepository) *Pruner {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Pruner{
		retention: retention,
		repos:     repos,
		clock:     clk,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval is a tenth of the retention period, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs an initial prune and schedules the rest. It returns a nil job when
// retention is disabled.
func (p *Pruner) Start(ctx context.Context, s scheduler.Scheduler) (scheduler.Job, error) {
	if p.retention <= 0 || len(p.repos) == 0 {
		return nil, nil
	}

	p.Prune(ctx)
	return s.Every(ctx, "retention-prune", p.Interval(), func(ctx context.Context) {
		p.Prune(ctx)
	})
}

// Prune deletes everything older than the retention window and returns the row count.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.clock.Now().Add(-p.retention)

	var total int64
	for _, repo := range p.repos {
		n, err := repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			p.log.Error("Failed to prune history", "cutoff", cutoff, "error", err)
		}
		total += n
	}
	if total > 0 {
		p.log.Info("Pruned SLA history", "rows", total, "cutoff", cutoff)
	}
	return total
}
