package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs the pruner every ten minutes.
const DefaultPruneSchedule = "@every 10m"

// Pruner removes idle sessions on a cron schedule.
type Pruner struct {
	store Store
	ttl   time.Duration
	cron  *cron.Cron
	now   func() time.Time
}

// NewPruner validates the schedule. A non-positive ttl disables pruning.
func NewPruner(store Store, ttl time.Duration, schedule string) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	p := &Pruner{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// RunOnce prunes immediately and returns how many sessions were removed.
func (p *Pruner) RunOnce(ctx context.Context) int {
	if p.ttl <= 0 {
		return 0
	}
	n, err := p.store.Prune(ctx, p.now().Add(-p.ttl))
	if err != nil {
		slog.Warn("Session prune failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Pruned idle sessions", "count", n, "ttl", p.ttl)
	}
	return n
}

func (p *Pruner) Start() { p.cron.Start() }

// Stop waits for a running prune to finish or ctx to end.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
