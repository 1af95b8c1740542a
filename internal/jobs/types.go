package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeBackup writes an archive of one owner's data to the archive store.
	JobTypeBackup JobType = "backup"
	// JobTypeRecategorize runs the categorization resolver over transactions.
	JobTypeRecategorize JobType = "recategorize"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries is applied to jobs published without MaxRetries.
const DefaultMaxRetries = 3

// Job is a unit of asynchronous work for one owner.
type Job struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type    JobType `json:"type"`
	OwnerID string  `json:"user_id"`

	// Payload holds the type-specific parameters, see BackupPayload and
	// RecategorizePayload.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Result is set by the handler on success.
	Result json.RawMessage `json:"result,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// BackupPayload parameterizes a JobTypeBackup job.
type BackupPayload struct {
	Kind string `json:"backup_type"`
}

// RecategorizePayload parameterizes a JobTypeRecategorize job. With
// UncategorizedOnly set, IDs is ignored.
type RecategorizePayload struct {
	IDs               []string `json:"transaction_ids,omitempty"`
	Tiers             []string `json:"tiers"`
	UncategorizedOnly bool     `json:"uncategorized_only,omitempty"`
}

// NewJob builds a pending job with payload encoded as JSON.
func NewJob(typ JobType, ownerID string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("NewJob: encoding payload: %w", err)
	}
	return &Job{Type: typ, OwnerID: ownerID, Payload: raw, Status: JobStatusPending}, nil
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("job %s: decoding %s payload: %w", j.JobID, j.Type, err)
	}
	return nil
}

// SetResult encodes v as the job result.
func (j *Job) SetResult(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("job %s: encoding result: %w", j.JobID, err)
	}
	j.Result = raw
	return nil
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues a job. The job id, status and timestamps are filled in
	// when missing.
	Publish(ctx context.Context, job *Job) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// OwnerID filters jobs by owner.
	OwnerID string

	// Type filters jobs by type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
