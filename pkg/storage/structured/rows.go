package structured

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/binsight/core/pkg/domain"
	sharederrors "github.com/binsight/core/pkg/shared/errors"
)

// jobRow is the flat, driver-agnostic shape read out of the jobs table;
// sqlx scans directly into it before toDomain expands the JSON columns.
type jobRow struct {
	ID              string         `db:"id"`
	Owner           string         `db:"owner"`
	FileRef         string         `db:"file_ref"`
	CreatedAt       time.Time      `db:"created_at"`
	Status          string         `db:"status"`
	Progress        float64        `db:"progress"`
	Priority        int            `db:"priority"`
	WorkerID        sql.NullString `db:"worker_id"`
	ClaimExpiresAt  sql.NullTime   `db:"claim_expires_at"`
	VisibleAt       time.Time      `db:"visible_at"`
	Attempts        int            `db:"attempts"`
	MaxAttempts     int            `db:"max_attempts"`
	Error           []byte         `db:"error"`
	Metadata        []byte         `db:"metadata"`
	ResultPresent   bool           `db:"result_present"`
	DecompResultKey sql.NullString `db:"decomp_result_key"`
	TranslResultKey sql.NullString `db:"transl_result_key"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	TranslationSpec []byte         `db:"translation_spec"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID: r.ID, Owner: r.Owner, FileRef: r.FileRef, CreatedAt: r.CreatedAt,
		Status: domain.JobStatus(r.Status), Progress: r.Progress, Priority: r.Priority,
		VisibleAt: r.VisibleAt, Attempts: r.Attempts, MaxAttempts: r.MaxAttempts,
		ResultPresent: r.ResultPresent,
	}
	if r.WorkerID.Valid {
		job.WorkerID = r.WorkerID.String
	}
	if r.ClaimExpiresAt.Valid {
		t := r.ClaimExpiresAt.Time
		job.ClaimExpiresAt = &t
	}
	if r.DecompResultKey.Valid {
		job.DecompResultKey = r.DecompResultKey.String
	}
	if r.TranslResultKey.Valid {
		job.TranslResultKey = r.TranslResultKey.String
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if r.IdempotencyKey.Valid {
		job.IdempotencyKey = r.IdempotencyKey.String
	}
	if len(r.Error) > 0 {
		var jobErr domain.JobError
		if err := json.Unmarshal(r.Error, &jobErr); err != nil {
			return nil, sharederrors.ParseError("job error column", err)
		}
		job.Error = &jobErr
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &job.Metadata); err != nil {
			return nil, sharederrors.ParseError("job metadata column", err)
		}
	}
	if len(r.TranslationSpec) > 0 {
		var spec domain.TranslationSpec
		if err := json.Unmarshal(r.TranslationSpec, &spec); err != nil {
			return nil, sharederrors.ParseError("job translation spec column", err)
		}
		job.TranslationSpec = &spec
	}
	return job, nil
}

type usageRow struct {
	Owner         string `db:"owner"`
	ProviderID    string `db:"provider_id"`
	Day           string `db:"day"`
	OperationType string `db:"operation_type"`
	TokensUsed    int64  `db:"tokens_used"`
	Requests      int64  `db:"requests"`
	Cost          string `db:"cost"`
}

type uploadSessionRow struct {
	ID               string `db:"id"`
	Owner            string `db:"owner"`
	ExpiresAtUnix    int64  `db:"expires_at"`
	AcceptedFileRefs []byte `db:"accepted_file_refs"`
}

type promptTemplateRow struct {
	TemplateID         string `db:"template_id"`
	Version            int    `db:"version"`
	OperationType      string `db:"operation_type"`
	SystemPrompt       string `db:"system_prompt"`
	UserPromptTemplate string `db:"user_prompt_template"`
	ProviderAdaptations []byte `db:"provider_adaptations"`
	DefaultParams      []byte `db:"default_params"`
}

func (r *promptTemplateRow) toDomain() (*domain.PromptTemplate, error) {
	tmpl := &domain.PromptTemplate{
		TemplateID: r.TemplateID, Version: r.Version, OperationType: r.OperationType,
		SystemPrompt: r.SystemPrompt, UserPromptTemplate: r.UserPromptTemplate,
	}
	if len(r.ProviderAdaptations) > 0 {
		if err := json.Unmarshal(r.ProviderAdaptations, &tmpl.ProviderAdaptations); err != nil {
			return nil, sharederrors.ParseError("prompt adaptations column", err)
		}
	}
	if len(r.DefaultParams) > 0 {
		if err := json.Unmarshal(r.DefaultParams, &tmpl.DefaultParams); err != nil {
			return nil, sharederrors.ParseError("prompt default params column", err)
		}
	}
	return tmpl, nil
}
