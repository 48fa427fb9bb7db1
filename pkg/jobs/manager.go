// Package jobs is C3: the job manager. It validates and submits JobSpecs,
// lets workers claim and heartbeat jobs under a lease, and records
// terminal outcomes. A background janitor reclaims jobs whose lease
// expired without a heartbeat, so a crashed worker never strands a job in
// "running" forever.
package jobs

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
	"github.com/binsight/core/pkg/ratelimit/policy"
	"github.com/binsight/core/pkg/storage/structured"
)

var validate = validator.New()

// defaultAdmissionTier is used for admission-policy evaluation when a
// JobSpec doesn't set Tier, so pre-policy callers keep working unchanged.
const defaultAdmissionTier = "standard"

// Manager is C3.
type Manager struct {
	store       structured.Store
	lease       time.Duration
	maxAttempts int
	logger      logr.Logger
	policy      *policy.Evaluator
}

// Option configures optional Manager behaviour.
type Option func(*Manager)

// WithAdmissionPolicy wires a Rego admission evaluator into Submit: every
// submission is checked against it (pending-job cap, allowed formats)
// before a row is created. Without this option Submit performs no
// policy-based admission check.
func WithAdmissionPolicy(eval *policy.Evaluator) Option {
	return func(m *Manager) { m.policy = eval }
}

// New builds a Manager. lease is how long a claimed job stays "running"
// before another worker may reclaim it absent a heartbeat.
func New(store structured.Store, lease time.Duration, maxAttempts int, logger logr.Logger, opts ...Option) *Manager {
	m := &Manager{store: store, lease: lease, maxAttempts: maxAttempts, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates spec and creates a new Job, or returns the existing job
// if spec.IdempotencyKey matches one already on file for the same owner.
func (m *Manager) Submit(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid job spec")
	}

	if spec.IdempotencyKey != "" {
		existing, err := m.store.GetJobByIdempotencyKey(ctx, spec.Owner, spec.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if err != structured.ErrNotFound {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "check idempotency key")
		}
	}

	if err := m.checkAdmission(ctx, spec); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.Job{
		ID:              uuid.NewString(),
		Owner:           spec.Owner,
		FileRef:         spec.FileRef,
		CreatedAt:       now,
		Status:          domain.JobQueued,
		Priority:        spec.Priority,
		VisibleAt:       now,
		MaxAttempts:     firstPositive(m.maxAttempts, 3),
		IdempotencyKey:  spec.IdempotencyKey,
		TranslationSpec: spec.TranslationSpec,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		if err == structured.ErrConflict {
			existing, getErr := m.store.GetJobByIdempotencyKey(ctx, spec.Owner, spec.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create job")
	}
	return job, nil
}

// checkAdmission evaluates spec against the configured admission policy,
// rejecting it if the owner exceeds their per-tier pending-job cap. A no-op
// when no Evaluator is configured.
func (m *Manager) checkAdmission(ctx context.Context, spec domain.JobSpec) error {
	if m.policy == nil {
		return nil
	}
	tier := spec.Tier
	if tier == "" {
		tier = defaultAdmissionTier
	}
	pending, err := m.store.CountPendingJobsByOwner(ctx, spec.Owner)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "count pending jobs for admission check")
	}
	decision, err := m.policy.Evaluate(ctx, policy.Input{
		Tier:            tier,
		PendingJobCount: pending,
		Format:          spec.Format,
		FileSizeBytes:   spec.FileSizeBytes,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "evaluate admission policy")
	}
	if !decision.Allow {
		reason := "job rejected by admission policy"
		if len(decision.Reasons) > 0 {
			reason = decision.Reasons[0]
		}
		return apperrors.NewValidationError(reason).WithDetailsf("owner: %s, tier: %s", spec.Owner, tier)
	}
	return nil
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err == structured.ErrNotFound {
		return nil, apperrors.NewNotFoundError("job").WithDetailsf("id: %s", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get job")
	}
	return job, nil
}

// Claim atomically assigns the next eligible job to workerID.
func (m *Manager) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	job, err := m.store.ClaimNextJob(ctx, workerID, m.lease, time.Now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "claim job")
	}
	return job, nil // nil, nil means no job was claimable
}

// Heartbeat extends a claimed job's lease and reports progress.
func (m *Manager) Heartbeat(ctx context.Context, jobID, workerID string, progress float64) error {
	err := m.store.HeartbeatJob(ctx, jobID, workerID, progress, m.lease, time.Now())
	if err == structured.ErrNotFound {
		return apperrors.NewValidationError("job is not running under this worker").WithDetailsf("job_id: %s, worker_id: %s", jobID, workerID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "heartbeat job")
	}
	return nil
}

// CheckpointDecompilation persists decompResultKey against jobID without
// altering its status, so a crash during translation resumes at translation
// instead of re-running extraction.
func (m *Manager) CheckpointDecompilation(ctx context.Context, jobID, decompResultKey string) error {
	if err := m.store.SetDecompResultKey(ctx, jobID, decompResultKey); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "checkpoint decompilation result")
	}
	return nil
}

// Complete marks jobID completed with the given result blob keys. It only
// succeeds while jobID is running under workerID; a repeated call with the
// same keys is a no-op, a repeated call with different keys is rejected.
func (m *Manager) Complete(ctx context.Context, jobID, workerID, decompResultKey, translResultKey string) error {
	err := m.store.CompleteJob(ctx, jobID, workerID, decompResultKey, translResultKey, time.Now())
	if err == structured.ErrConflict {
		return apperrors.NewValidationError("job already completed with different result keys").WithDetailsf("job_id: %s", jobID)
	}
	if err == structured.ErrNotFound {
		return apperrors.NewValidationError("job is not running under this worker").WithDetailsf("job_id: %s, worker_id: %s", jobID, workerID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "complete job")
	}
	return nil
}

// Fail records a terminal or retryable failure. When retryable is true and
// the job hasn't exhausted max_attempts, the store requeues it instead of
// marking it failed. It only succeeds while jobID is running under workerID.
func (m *Manager) Fail(ctx context.Context, jobID, workerID string, jobErr *domain.JobError, retryable bool) error {
	err := m.store.FailJob(ctx, jobID, workerID, jobErr, retryable, time.Now())
	if err == structured.ErrNotFound {
		return apperrors.NewValidationError("job is not running under this worker").WithDetailsf("job_id: %s, worker_id: %s", jobID, workerID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "fail job")
	}
	return nil
}

// Cancel marks a non-terminal job owned by owner cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID, owner string) error {
	err := m.store.CancelJob(ctx, jobID, owner, time.Now())
	if err == structured.ErrNotFound {
		reason := "job already in a terminal state"
		if job, getErr := m.store.GetJob(ctx, jobID); getErr == nil && job.Owner != owner {
			reason = "job is not owned by this caller"
		}
		return apperrors.NewValidationError(reason).WithDetailsf("job_id: %s", jobID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "cancel job")
	}
	return nil
}

// ListByOwner returns owner's most recent jobs, newest first.
func (m *Manager) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Job, error) {
	jobs, err := m.store.ListJobsByOwner(ctx, owner, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list jobs by owner")
	}
	return jobs, nil
}

// PendingCount reports how many queued/running jobs owner currently has,
// for C2's admission policy input.
func (m *Manager) PendingCount(ctx context.Context, owner string) (int, error) {
	n, err := m.store.CountPendingJobsByOwner(ctx, owner)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "count pending jobs")
	}
	return n, nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 1
}
