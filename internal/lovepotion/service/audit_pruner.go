package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
)

// AuditPruner periodically deletes audit records older than the retention
// period. A retention of 0 disables pruning entirely.
type AuditPruner struct {
	store     store.AuditPruneStore
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// PrunerConfig holds the parameters for NewAuditPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of audit history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewAuditPruner creates a pruner but does not start it.
func NewAuditPruner(s store.AuditPruneStore, cfg PrunerConfig, clk clock.Clock, logger *slog.Logger) *AuditPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &AuditPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     clk,
		logger:    logger.With("component", "audit_pruner"),
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the interval until ctx
// is cancelled or Stop is called.
func (p *AuditPruner) Start(ctx context.Context) {
	p.once.Do(func() {
		if p.retention <= 0 {
			p.logger.Info("audit pruner disabled (retention=0)")
			close(p.done)
			return
		}

		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)

		p.logger.Info("audit pruner started",
			"retention_days", int(p.retention.Hours()/24),
			"interval_hours", int(p.interval.Hours()))
	})
}

// Stop signals the pruner to exit and waits for it. Stop before Start
// returns immediately.
func (p *AuditPruner) Stop() {
	started := true
	p.once.Do(func() {
		started = false
		close(p.done)
	})
	if started && p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *AuditPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *AuditPruner) prune(ctx context.Context) {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("audit prune", "err", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("audit prune", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
