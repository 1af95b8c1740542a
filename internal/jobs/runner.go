package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categorize"
)

// BackupResult is stored on completed backup jobs.
type BackupResult struct {
	Location string          `json:"location"`
	Metadata backup.Metadata `json:"metadata"`
}

// Runner executes jobs by type.
type Runner struct {
	serializer *backup.Serializer
	archives   backup.ArchiveStore
	resolver   *categorize.Resolver
	log        zerolog.Logger
}

// NewRunner creates a job runner.
func NewRunner(serializer *backup.Serializer, archives backup.ArchiveStore, resolver *categorize.Resolver, log zerolog.Logger) *Runner {
	return &Runner{serializer: serializer, archives: archives, resolver: resolver, log: log}
}

// Handle implements JobHandler.
func (r *Runner) Handle(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeBackup:
		return r.backup(ctx, job)
	case JobTypeRecategorize:
		return r.recategorize(ctx, job)
	default:
		return fmt.Errorf("unexpected job type: %s", job.Type)
	}
}

func (r *Runner) backup(ctx context.Context, job *Job) error {
	var p BackupPayload
	if err := job.DecodePayload(&p); err != nil {
		return err
	}
	kind := backup.Kind(p.Kind)
	if kind == "" {
		kind = backup.KindScheduled
	}

	data, md, err := r.serializer.Archive(ctx, job.OwnerID, kind)
	if err != nil {
		return fmt.Errorf("backup job: %w", err)
	}
	location, err := r.archives.Put(ctx, backup.ArchiveName(kind, job.OwnerID, md.CreatedAt), data)
	if err != nil {
		return fmt.Errorf("backup job: saving archive: %w", err)
	}

	r.log.Info().
		Str("job_id", job.JobID).
		Str("owner_id", job.OwnerID).
		Str("location", location).
		Msg("Backup archive stored")
	return job.SetResult(BackupResult{Location: location, Metadata: md})
}

func (r *Runner) recategorize(ctx context.Context, job *Job) error {
	var p RecategorizePayload
	if err := job.DecodePayload(&p); err != nil {
		return err
	}
	tiers := categorize.AllTiers
	if len(p.Tiers) > 0 {
		var err error
		if tiers, err = categorize.ParseTiers(strings.Join(p.Tiers, ",")); err != nil {
			return fmt.Errorf("recategorize job: %w", err)
		}
	}

	var (
		res categorize.BulkResult
		err error
	)
	if p.UncategorizedOnly {
		res, err = r.resolver.RecategorizeUncategorized(ctx, job.OwnerID, tiers)
	} else {
		res, err = r.resolver.Recategorize(ctx, job.OwnerID, p.IDs, tiers)
	}
	if err != nil {
		return fmt.Errorf("recategorize job: %w", err)
	}

	// per-transaction outcomes are not kept on the job
	res.Outcomes = nil
	return job.SetResult(res)
}
