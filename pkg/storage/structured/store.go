package structured

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binsight/core/pkg/domain"
)

// Store is the structured-data half of C1: everything that isn't a content
// blob. Implementations must make CreateJob/ClaimNextJob atomic against
// concurrent workers (§5's lease-based claim protocol).
type Store interface {
	// Jobs

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, owner, key string) (*domain.Job, error)
	// ClaimNextJob atomically selects the highest-priority, oldest-created
	// queued (or expired-lease) job visible at now, marks it running under
	// workerID with a lease expiring at now+lease, and returns it. Returns
	// nil, nil if no job is claimable.
	ClaimNextJob(ctx context.Context, workerID string, lease time.Duration, now time.Time) (*domain.Job, error)
	HeartbeatJob(ctx context.Context, id, workerID string, progress float64, lease time.Duration, now time.Time) error
	// SetDecompResultKey persists decompKey as a restart-safe checkpoint
	// without completing the job, so a worker crash after decompilation but
	// before translation resumes at translation rather than re-extracting.
	SetDecompResultKey(ctx context.Context, id, decompKey string) error
	// CompleteJob only succeeds while id is running under workerID; it is
	// idempotent for a repeated call with the same result keys (a no-op) but
	// rejects a repeated call with a different key via ErrConflict.
	CompleteJob(ctx context.Context, id, workerID, decompKey, translKey string, now time.Time) error
	// FailJob only succeeds while id is running under workerID.
	FailJob(ctx context.Context, id, workerID string, jobErr *domain.JobError, retryable bool, now time.Time) error
	// CancelJob only succeeds for a non-terminal job owned by owner.
	CancelJob(ctx context.Context, id, owner string, now time.Time) error
	// ReclaimExpiredLeases resets any running job whose lease has expired
	// back to queued, leaving attempts unchanged (ClaimNextJob counts each
	// claim); returns the count reset.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)
	ListJobsByOwner(ctx context.Context, owner string, limit int) ([]*domain.Job, error)
	CountPendingJobsByOwner(ctx context.Context, owner string) (int, error)
	// ListExpiredJobResults returns the blob keys of jobs whose results
	// completed before olderThan and are still marked result_present
	// (sweeper); returning the stored keys rather than reconstructing them
	// from job id keeps the sweeper correct regardless of blob key scheme.
	ListExpiredJobResults(ctx context.Context, olderThan time.Time) ([]ExpiredJobResult, error)
	// DeleteJobResult clears a job's result_present flag and keys once its
	// blobs have been removed by the sweeper.
	DeleteJobResult(ctx context.Context, jobID string) error

	// Artifacts

	UpsertArtifact(ctx context.Context, artifact *domain.BinaryArtifact) error
	GetArtifact(ctx context.Context, sha256 string) (*domain.BinaryArtifact, error)
	IncrArtifactRefCount(ctx context.Context, sha256 string, delta int) error

	// Usage ledger (C2 cost ceilings)

	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
	GetUsageForDay(ctx context.Context, owner, providerID, day string) (*domain.UsageRecord, error)
	// GetTotalUsageForDay sums cost across every provider and operation
	// type owner spent on day, for C2's daily cost ceiling check.
	GetTotalUsageForDay(ctx context.Context, owner, day string) (decimal.Decimal, error)
	// GetUsageForProviderDay sums owner's cost against providerID alone for
	// day, for C6's per-provider daily budget check.
	GetUsageForProviderDay(ctx context.Context, owner, providerID, day string) (decimal.Decimal, error)
	// GetUsageForProviderMonth sums owner's cost against providerID alone
	// across every day in month (format "2006-01"), for C6's per-provider
	// monthly budget check.
	GetUsageForProviderMonth(ctx context.Context, owner, providerID, month string) (decimal.Decimal, error)

	// Upload sessions / API keys

	CreateUploadSession(ctx context.Context, s *domain.UploadSession) error
	GetUploadSession(ctx context.Context, id string) (*domain.UploadSession, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error)

	// Prompt templates (C7)

	GetPromptTemplate(ctx context.Context, templateID string, version int) (*domain.PromptTemplate, error)
	GetLatestPromptTemplate(ctx context.Context, templateID string) (*domain.PromptTemplate, error)
	PutPromptTemplate(ctx context.Context, tmpl *domain.PromptTemplate) error
	// RecordPromptMetric atomically folds one completed translation task's
	// outcome into the (template_id, provider_id) running averages.
	RecordPromptMetric(ctx context.Context, templateID, providerID string, success bool, qualityScore, latencyMs float64) error
	GetPromptMetric(ctx context.Context, templateID, providerID string) (*domain.PromptMetric, error)

	Close() error
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "structured store: not found" }

// ErrConflict is returned when an idempotency key collides with a different
// job, or an optimistic update loses a race.
var ErrConflict = errConflict{}

type errConflict struct{}

func (errConflict) Error() string { return "structured store: conflict" }

// ExpiredJobResult is one sweeper candidate: a job past its result TTL,
// with the actual blob keys it wrote (either may be empty if that half of
// the job's result was never produced).
type ExpiredJobResult struct {
	JobID           string
	DecompResultKey string
	TranslResultKey string
}
