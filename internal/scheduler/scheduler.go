// Package scheduler triggers the recurring maintenance jobs on wall-clock
// schedules: the weekly full refresh with a journal trim behind it, and the
// daily analytics rollup. Jobs are idempotent, so a replayed or overlapping
// run cannot corrupt state.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tijarahlabs/storesync/internal/analytics"
	"github.com/tijarahlabs/storesync/internal/config"
	"github.com/tijarahlabs/storesync/internal/ingest"
	"github.com/tijarahlabs/storesync/internal/journal"
)

// jobTimeout bounds one scheduled run. The weekly refresh walks every
// published document and dominates the budget.
const jobTimeout = 30 * time.Minute

// Scheduler owns the cron runner and the jobs it drives.
type Scheduler struct {
	cron      *cron.Cron
	ingestor  *ingest.Ingestor
	journal   *journal.Journal
	analytics *analytics.Analytics
}

// New registers the configured triggers. Start must be called to run them.
func New(cfg config.Config, ing *ingest.Ingestor, j *journal.Journal, a *analytics.Analytics) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		ingestor:  ing,
		journal:   j,
		analytics: a,
	}

	refresh := fmt.Sprintf("0 %d * * %d", cfg.Sync.FullRefreshHour, cfg.Sync.FullRefreshDay)
	if _, err := s.cron.AddFunc(refresh, s.runFullRefresh); err != nil {
		return nil, fmt.Errorf("scheduler: register full refresh: %w", err)
	}

	rollup := fmt.Sprintf("%d %d * * *", cfg.Analytics.AggregationMinute, cfg.Analytics.AggregationHour)
	if _, err := s.cron.AddFunc(rollup, s.runAnalyticsRollup); err != nil {
		return nil, fmt.Errorf("scheduler: register analytics rollup: %w", err)
	}

	return s, nil
}

// Start launches the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("scheduler started")
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runFullRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	summary := s.ingestor.FullRefresh(ctx)
	trimmed := s.journal.TrimAll(ctx)
	log.Info().
		Int("fetched", summary.TotalFetched).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Int64("trimmed", trimmed).
		Dur("duration", time.Since(start)).
		Msg("weekly full refresh finished")
}

func (s *Scheduler) runAnalyticsRollup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.analytics.RunDaily(ctx, time.Now()); err != nil {
		log.Error().Err(err).Msg("daily analytics rollup failed")
	}
}
