package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	"github.com/yungbote/quickentry-backend/internal/data/repos"
	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Sweeper fails entries that sat in an open stage past the pipeline
// ceiling, e.g. runs lost to a restart.
type Sweeper struct {
	log      *logger.Logger
	tx       aggregates.TxRunner
	entries  repos.QuickEntryRepo
	stats    repos.UserEntryStatsRepo
	metrics  *observability.Metrics
	ceiling  time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(baseLog *logger.Logger, tx aggregates.TxRunner, rs repos.Set, pol policy.Pipeline, metrics *observability.Metrics) (*Sweeper, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tx == nil || rs.QuickEntries == nil || rs.Stats == nil {
		return nil, fmt.Errorf("tx runner and repos required")
	}
	if pol.Ceiling <= 0 {
		return nil, fmt.Errorf("pipeline ceiling must be positive")
	}
	interval := pol.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		log:      baseLog.With("component", "StaleEntrySweeper"),
		tx:       tx,
		entries:  rs.QuickEntries,
		stats:    rs.Stats,
		metrics:  metrics,
		ceiling:  pol.Ceiling,
		interval: interval,
		batch:    pol.SweepBatch,
		now:      time.Now,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info("Starting stale entry sweeper", "interval", s.interval, "ceiling", s.ceiling)
	go s.runLoop(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper loop stopped")
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("Sweeper panic", "panic", r)
					}
				}()
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.Warn("Sweep failed", "error", err)
				}
			}()
		}
	}
}

// SweepOnce fails one batch of stale entries and counts them in their
// owners' stats. It returns how many entries it failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.ceiling)
	var swept []*entries.QuickEntry
	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		stale, err := s.entries.FailStale(dbc, cutoff, s.batch)
		if err != nil {
			return err
		}
		for _, e := range stale {
			if err := s.stats.Increment(dbc, e.UserID, entries.StatsDelta{Total: 1, Failed: 1}); err != nil {
				return err
			}
		}
		swept = stale
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, e := range swept {
		s.metrics.IncSwept(string(e.Stage))
		s.log.Warn("stale entry failed",
			"entry_id", e.ID,
			"stage", e.Stage,
			"stage_at", e.StageAt,
		)
	}
	return len(swept), nil
}
