package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/backup"
)

// OwnerLister returns every owner that holds data.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// Scheduler enqueues a scheduled backup job per owner on a cron schedule.
type Scheduler struct {
	owners    OwnerLister
	publisher Publisher
	cron      *cron.Cron
	log       zerolog.Logger
}

// NewScheduler creates a backup scheduler.
func NewScheduler(owners OwnerLister, publisher Publisher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		owners:    owners,
		publisher: publisher,
		cron:      cron.New(),
		log:       log,
	}
}

// Start registers EnqueueBackups under the standard cron expression schedule and
// starts the cron loop. Runs stop being scheduled once ctx is done.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.EnqueueBackups(ctx); err != nil {
			s.log.Error().Err(err).Msg("Scheduled backup run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("Start: invalid schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Msg("Backup scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running EnqueueBackups to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// EnqueueBackups publishes one backup job per owner and returns how many
// were enqueued. A failed publish is logged and does not stop the others.
func (s *Scheduler) EnqueueBackups(ctx context.Context) (int, error) {
	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("EnqueueBackups: listing owners: %w", err)
	}

	enqueued := 0
	for _, ownerID := range owners {
		job, err := NewJob(JobTypeBackup, ownerID, BackupPayload{Kind: string(backup.KindScheduled)})
		if err == nil {
			err = s.publisher.Publish(ctx, job)
		}
		if err != nil {
			s.log.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to enqueue backup job")
			continue
		}
		enqueued++
	}

	s.log.Info().Int("owners", len(owners)).Int("enqueued", enqueued).Msg("Scheduled backups enqueued")
	return enqueued, nil
}
