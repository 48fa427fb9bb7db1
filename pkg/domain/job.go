// Package domain holds the data model shared across the core: jobs, binary
// artifacts, decompilation and translation results, prompt templates, usage
// and rate-limit records.
package domain

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status cannot transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobError is the stable, user-visible failure shape for a failed Job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Job is the unit of work tracked by the job manager (C3).
type Job struct {
	ID              string                 `json:"id" db:"id"`
	Owner           string                 `json:"owner" db:"owner"`
	FileRef         string                 `json:"file_ref" db:"file_ref"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	Status          JobStatus              `json:"status" db:"status"`
	Progress        float64                `json:"progress" db:"progress"`
	Priority        int                    `json:"priority" db:"priority"`
	WorkerID        string                 `json:"worker_id,omitempty" db:"worker_id"`
	ClaimExpiresAt  *time.Time             `json:"claim_expires_at,omitempty" db:"claim_expires_at"`
	VisibleAt       time.Time              `json:"visible_at" db:"visible_at"`
	Attempts        int                    `json:"attempts" db:"attempts"`
	MaxAttempts     int                    `json:"max_attempts" db:"max_attempts"`
	Error           *JobError              `json:"error,omitempty" db:"error"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	ResultPresent   bool                   `json:"result_present" db:"result_present"`
	DecompResultKey string                 `json:"decomp_result_key,omitempty" db:"decomp_result_key"`
	TranslResultKey string                 `json:"transl_result_key,omitempty" db:"transl_result_key"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty" db:"idempotency_key"`
	TranslationSpec *TranslationSpec       `json:"translation_spec,omitempty" db:"translation_spec"`
}

// JobSpec is the inbound request to submit a new Job.
// Tier, Format and FileSizeBytes are optional admission-policy inputs: when
// a Manager has an Evaluator configured, an empty Tier defaults to
// "standard" rather than failing validation, since older callers (and
// every pre-policy test) never set it.
type JobSpec struct {
	Owner           string           `json:"owner" validate:"required"`
	FileRef         string           `json:"file_ref" validate:"required"`
	Priority        int              `json:"priority" validate:"gte=0,lte=9"`
	IdempotencyKey  string           `json:"idempotency_key,omitempty"`
	Tier            string           `json:"tier,omitempty"`
	Format          string           `json:"format,omitempty"`
	FileSizeBytes   int64            `json:"file_size_bytes,omitempty"`
	TranslationSpec *TranslationSpec `json:"translation_spec,omitempty" validate:"omitempty,dive"`
}

// TranslationSpec configures C8's fan-out for one job.
type TranslationSpec struct {
	DetailLevel    string `json:"detail_level" validate:"omitempty,oneof=brief standard verbose"`
	ProviderPref   string `json:"provider_pref,omitempty"`
	ModelPref      string `json:"model_pref,omitempty"`
	MaxConcurrency int    `json:"max_concurrency" validate:"gte=0"`
	MaxFunctions   int    `json:"max_functions" validate:"gte=0"`
}
