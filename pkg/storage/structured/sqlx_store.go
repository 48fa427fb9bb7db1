package structured

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver

	"github.com/binsight/core/pkg/domain"
	sharederrors "github.com/binsight/core/pkg/shared/errors"
)

// sqlxStore implements Store over sqlx.DB, working against either the
// Postgres or the SQLite driver — sqlx.Rebind translates "?" placeholders
// to the driver's native bindvar style, so the same query text serves both.
type sqlxStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a pgx-backed sqlx.DB against cfg.
func NewPostgresStore(cfg *Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sharederrors.ConfigurationError("structured.postgres", err)
	}
	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, sharederrors.DatabaseError("connect postgres", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return &sqlxStore{db: db}, nil
}

// NewSQLiteStore opens a sqlite3-backed sqlx.DB at path, for local
// development and tests. path may be ":memory:".
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, sharederrors.DatabaseError("connect sqlite", err)
	}
	db.SetMaxOpenConns(1) // sqlite single-writer
	return &sqlxStore{db: db}, nil
}

// NewStoreFromDB wraps an already-open sqlx.DB, used by tests with go-sqlmock.
func NewStoreFromDB(db *sqlx.DB) Store {
	return &sqlxStore{db: db}
}

func (s *sqlxStore) Close() error { return s.db.Close() }

func (s *sqlxStore) rebind(query string) string { return s.db.Rebind(query) }

func (s *sqlxStore) CreateJob(ctx context.Context, job *domain.Job) error {
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return sharederrors.ParseError("job metadata", err)
	}
	var spec []byte
	if job.TranslationSpec != nil {
		spec, err = json.Marshal(job.TranslationSpec)
		if err != nil {
			return sharederrors.ParseError("translation spec", err)
		}
	}
	query := s.rebind(`INSERT INTO jobs
		(id, owner, file_ref, created_at, status, progress, priority, visible_at,
		 attempts, max_attempts, metadata, idempotency_key, translation_spec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.Owner, job.FileRef, job.CreatedAt, job.Status, job.Progress, job.Priority,
		job.VisibleAt, job.Attempts, job.MaxAttempts, meta, nullIfEmpty(job.IdempotencyKey), spec)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return sharederrors.DatabaseError("insert job", err)
	}
	return nil
}

func (s *sqlxStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := s.rebind(`SELECT * FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get job", err)
	}
	return row.toDomain()
}

func (s *sqlxStore) GetJobByIdempotencyKey(ctx context.Context, owner, key string) (*domain.Job, error) {
	var row jobRow
	query := s.rebind(`SELECT * FROM jobs WHERE owner = ? AND idempotency_key = ?`)
	if err := s.db.GetContext(ctx, &row, query, owner, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get job by idempotency key", err)
	}
	return row.toDomain()
}

// ClaimNextJob runs inside a transaction: select the best candidate row with
// a row lock, then update it. SQLite's single connection makes this
// effectively serialized; Postgres relies on SELECT ... FOR UPDATE SKIP
// LOCKED to let concurrent workers claim different jobs without blocking.
func (s *sqlxStore) ClaimNextJob(ctx context.Context, workerID string, lease time.Duration, now time.Time) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, sharederrors.DatabaseError("begin claim tx", err)
	}
	defer tx.Rollback()

	selectQuery := `SELECT id FROM jobs
		WHERE (status = 'queued' OR (status = 'running' AND claim_expires_at < ?))
		  AND visible_at <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`
	if s.db.DriverName() != "sqlite3" {
		selectQuery += ` FOR UPDATE SKIP LOCKED`
	}
	selectQuery = s.rebind(selectQuery)
	var id string
	if err := tx.GetContext(ctx, &id, selectQuery, now, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, sharederrors.DatabaseError("select claimable job", err)
	}

	expires := now.Add(lease)
	updateQuery := s.rebind(`UPDATE jobs SET status = 'running', worker_id = ?,
		claim_expires_at = ?, attempts = attempts + 1 WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, updateQuery, workerID, expires, id); err != nil {
		return nil, sharederrors.DatabaseError("claim job", err)
	}

	var row jobRow
	getQuery := s.rebind(`SELECT * FROM jobs WHERE id = ?`)
	if err := tx.GetContext(ctx, &row, getQuery, id); err != nil {
		return nil, sharederrors.DatabaseError("reload claimed job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, sharederrors.DatabaseError("commit claim tx", err)
	}
	return row.toDomain()
}

func (s *sqlxStore) HeartbeatJob(ctx context.Context, id, workerID string, progress float64, lease time.Duration, now time.Time) error {
	query := s.rebind(`UPDATE jobs SET progress = ?, claim_expires_at = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`)
	res, err := s.db.ExecContext(ctx, query, progress, now.Add(lease), id, workerID)
	if err != nil {
		return sharederrors.DatabaseError("heartbeat job", err)
	}
	return expectOneRow(res)
}

func (s *sqlxStore) SetDecompResultKey(ctx context.Context, id, decompKey string) error {
	query := s.rebind(`UPDATE jobs SET decomp_result_key = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, decompKey, id)
	if err != nil {
		return sharederrors.DatabaseError("set decomp result key", err)
	}
	return nil
}

// CompleteJob only transitions a job that is running under workerID. When no
// row matches that guard, the job is either already terminal or owned by a
// different worker; completeIdempotent tells those two cases apart so a
// repeated completion with the same result keys is a no-op rather than an
// error (§8's idempotence law), while a repeated call with a different key,
// or a call from another worker while the job is still running, is
// rejected.
func (s *sqlxStore) CompleteJob(ctx context.Context, id, workerID, decompKey, translKey string, now time.Time) error {
	query := s.rebind(`UPDATE jobs SET status = 'completed', progress = 1.0,
		result_present = true, decomp_result_key = ?, transl_result_key = ?,
		completed_at = ? WHERE id = ? AND worker_id = ? AND status = 'running'`)
	res, err := s.db.ExecContext(ctx, query, decompKey, translKey, now, id, workerID)
	if err != nil {
		return sharederrors.DatabaseError("complete job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	return s.completeIdempotent(ctx, id, decompKey, translKey)
}

func (s *sqlxStore) completeIdempotent(ctx context.Context, id, decompKey, translKey string) error {
	var row jobRow
	query := s.rebind(`SELECT * FROM jobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return sharederrors.DatabaseError("reload job for complete idempotence check", err)
	}
	if row.Status == string(domain.JobCompleted) &&
		row.DecompResultKey.String == decompKey && row.TranslResultKey.String == translKey {
		return nil
	}
	if row.Status == string(domain.JobCompleted) {
		return ErrConflict
	}
	return ErrNotFound
}

// FailJob only transitions a job that is running under workerID, in either
// branch: the retryable requeue and the terminal failure both carry the same
// guard, so a stale fail call (wrong worker, or a job that already left
// "running") never flips a terminal job's status.
func (s *sqlxStore) FailJob(ctx context.Context, id, workerID string, jobErr *domain.JobError, retryable bool, now time.Time) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return sharederrors.ParseError("job error", err)
	}
	if retryable {
		query := s.rebind(`UPDATE jobs SET status = 'queued', error = ?, worker_id = NULL,
			claim_expires_at = NULL WHERE id = ? AND worker_id = ? AND status = 'running' AND attempts < max_attempts`)
		res, execErr := s.db.ExecContext(ctx, query, errJSON, id, workerID)
		if execErr != nil {
			return sharederrors.DatabaseError("retry job", execErr)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			return nil
		}
	}
	query := s.rebind(`UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND worker_id = ? AND status = 'running'`)
	res, err := s.db.ExecContext(ctx, query, errJSON, now, id, workerID)
	if err != nil {
		return sharederrors.DatabaseError("fail job", err)
	}
	return expectOneRow(res)
}

func (s *sqlxStore) CancelJob(ctx context.Context, id, owner string, now time.Time) error {
	query := s.rebind(`UPDATE jobs SET status = 'cancelled', completed_at = ?
		WHERE id = ? AND owner = ? AND status NOT IN ('completed', 'failed', 'cancelled')`)
	res, err := s.db.ExecContext(ctx, query, now, id, owner)
	if err != nil {
		return sharederrors.DatabaseError("cancel job", err)
	}
	return expectOneRow(res)
}

func (s *sqlxStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	query := s.rebind(`UPDATE jobs SET status = 'queued', worker_id = NULL, claim_expires_at = NULL
		WHERE status = 'running' AND claim_expires_at < ?`)
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, sharederrors.DatabaseError("reclaim expired leases", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlxStore) ListJobsByOwner(ctx context.Context, owner string, limit int) ([]*domain.Job, error) {
	var rows []jobRow
	query := s.rebind(`SELECT * FROM jobs WHERE owner = ? ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, owner, limit); err != nil {
		return nil, sharederrors.DatabaseError("list jobs by owner", err)
	}
	out := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *sqlxStore) CountPendingJobsByOwner(ctx context.Context, owner string) (int, error) {
	var n int
	query := s.rebind(`SELECT COUNT(*) FROM jobs WHERE owner = ? AND status IN ('queued', 'running')`)
	if err := s.db.GetContext(ctx, &n, query, owner); err != nil {
		return 0, sharederrors.DatabaseError("count pending jobs", err)
	}
	return n, nil
}

func (s *sqlxStore) ListExpiredJobResults(ctx context.Context, olderThan time.Time) ([]ExpiredJobResult, error) {
	var rows []struct {
		ID              string         `db:"id"`
		DecompResultKey sql.NullString `db:"decomp_result_key"`
		TranslResultKey sql.NullString `db:"transl_result_key"`
	}
	query := s.rebind(`SELECT id, decomp_result_key, transl_result_key FROM jobs
		WHERE result_present = true AND completed_at < ?`)
	if err := s.db.SelectContext(ctx, &rows, query, olderThan); err != nil {
		return nil, sharederrors.DatabaseError("list expired job results", err)
	}
	out := make([]ExpiredJobResult, len(rows))
	for i, r := range rows {
		out[i] = ExpiredJobResult{JobID: r.ID, DecompResultKey: r.DecompResultKey.String, TranslResultKey: r.TranslResultKey.String}
	}
	return out, nil
}

func (s *sqlxStore) DeleteJobResult(ctx context.Context, jobID string) error {
	query := s.rebind(`UPDATE jobs SET result_present = false, decomp_result_key = NULL,
		transl_result_key = NULL WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return sharederrors.DatabaseError("delete job result", err)
	}
	return nil
}

func (s *sqlxStore) UpsertArtifact(ctx context.Context, a *domain.BinaryArtifact) error {
	query := s.rebind(`INSERT INTO binary_artifacts
		(sha256, size, format, architecture, platform, path_in_store, ref_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (sha256) DO UPDATE SET ref_count = binary_artifacts.ref_count + 1`)
	_, err := s.db.ExecContext(ctx, query, a.SHA256, a.Size, a.Format, a.Architecture, a.Platform, a.PathInStore)
	if err != nil {
		return sharederrors.DatabaseError("upsert artifact", err)
	}
	return nil
}

func (s *sqlxStore) GetArtifact(ctx context.Context, sha256 string) (*domain.BinaryArtifact, error) {
	var a domain.BinaryArtifact
	query := s.rebind(`SELECT * FROM binary_artifacts WHERE sha256 = ?`)
	if err := s.db.GetContext(ctx, &a, query, sha256); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get artifact", err)
	}
	return &a, nil
}

func (s *sqlxStore) IncrArtifactRefCount(ctx context.Context, sha256 string, delta int) error {
	query := s.rebind(`UPDATE binary_artifacts SET ref_count = ref_count + ? WHERE sha256 = ?`)
	_, err := s.db.ExecContext(ctx, query, delta, sha256)
	if err != nil {
		return sharederrors.DatabaseError("incr artifact ref count", err)
	}
	return nil
}

func (s *sqlxStore) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	query := s.rebind(`INSERT INTO usage_records
		(owner, provider_id, day, operation_type, tokens_used, requests, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, provider_id, day, operation_type) DO UPDATE SET
			tokens_used = usage_records.tokens_used + excluded.tokens_used,
			requests = usage_records.requests + excluded.requests,
			cost = usage_records.cost + excluded.cost`)
	_, err := s.db.ExecContext(ctx, query, rec.Owner, rec.ProviderID, rec.Day, rec.OperationType,
		rec.TokensUsed, rec.Requests, rec.Cost.String())
	if err != nil {
		return sharederrors.DatabaseError("record usage", err)
	}
	return nil
}

func (s *sqlxStore) GetUsageForDay(ctx context.Context, owner, providerID, day string) (*domain.UsageRecord, error) {
	var raw usageRow
	query := s.rebind(`SELECT owner, provider_id, day, operation_type, tokens_used, requests, cost
		FROM usage_records WHERE owner = ? AND provider_id = ? AND day = ?`)
	if err := s.db.GetContext(ctx, &raw, query, owner, providerID, day); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get usage for day", err)
	}
	cost, err := decimal.NewFromString(raw.Cost)
	if err != nil {
		return nil, sharederrors.ParseError("usage cost", err)
	}
	return &domain.UsageRecord{
		Owner: raw.Owner, ProviderID: raw.ProviderID, Day: raw.Day,
		OperationType: raw.OperationType, TokensUsed: raw.TokensUsed,
		Requests: raw.Requests, Cost: cost,
	}, nil
}

func (s *sqlxStore) GetTotalUsageForDay(ctx context.Context, owner, day string) (decimal.Decimal, error) {
	var total sql.NullString
	query := s.rebind(`SELECT SUM(CAST(cost AS DECIMAL)) FROM usage_records WHERE owner = ? AND day = ?`)
	if err := s.db.GetContext(ctx, &total, query, owner, day); err != nil {
		return decimal.Zero, sharederrors.DatabaseError("get total usage for day", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(total.String)
	if err != nil {
		return decimal.Zero, sharederrors.ParseError("total usage cost", err)
	}
	return sum, nil
}

func (s *sqlxStore) GetUsageForProviderDay(ctx context.Context, owner, providerID, day string) (decimal.Decimal, error) {
	var total sql.NullString
	query := s.rebind(`SELECT SUM(CAST(cost AS DECIMAL)) FROM usage_records
		WHERE owner = ? AND provider_id = ? AND day = ?`)
	if err := s.db.GetContext(ctx, &total, query, owner, providerID, day); err != nil {
		return decimal.Zero, sharederrors.DatabaseError("get provider usage for day", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(total.String)
	if err != nil {
		return decimal.Zero, sharederrors.ParseError("provider usage cost", err)
	}
	return sum, nil
}

// GetUsageForProviderMonth sums cost via a LIKE prefix match on day (format
// "2006-01-02") rather than a schema change, since month is always a
// "2006-01" prefix of every day value the column already stores.
func (s *sqlxStore) GetUsageForProviderMonth(ctx context.Context, owner, providerID, month string) (decimal.Decimal, error) {
	var total sql.NullString
	query := s.rebind(`SELECT SUM(CAST(cost AS DECIMAL)) FROM usage_records
		WHERE owner = ? AND provider_id = ? AND day LIKE ?`)
	if err := s.db.GetContext(ctx, &total, query, owner, providerID, month+"%"); err != nil {
		return decimal.Zero, sharederrors.DatabaseError("get provider usage for month", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(total.String)
	if err != nil {
		return decimal.Zero, sharederrors.ParseError("provider usage cost", err)
	}
	return sum, nil
}

func (s *sqlxStore) CreateUploadSession(ctx context.Context, sess *domain.UploadSession) error {
	refs, err := json.Marshal(sess.AcceptedFileRefs)
	if err != nil {
		return sharederrors.ParseError("upload session refs", err)
	}
	query := s.rebind(`INSERT INTO upload_sessions (id, owner, expires_at, accepted_file_refs)
		VALUES (?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, sess.ID, sess.Owner, sess.ExpiresAtUnix, refs)
	if err != nil {
		return sharederrors.DatabaseError("create upload session", err)
	}
	return nil
}

func (s *sqlxStore) GetUploadSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	var raw uploadSessionRow
	query := s.rebind(`SELECT id, owner, expires_at, accepted_file_refs FROM upload_sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &raw, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get upload session", err)
	}
	var refs []string
	if err := json.Unmarshal(raw.AcceptedFileRefs, &refs); err != nil {
		return nil, sharederrors.ParseError("upload session refs", err)
	}
	return &domain.UploadSession{ID: raw.ID, Owner: raw.Owner, ExpiresAtUnix: raw.ExpiresAtUnix, AcceptedFileRefs: refs}, nil
}

func (s *sqlxStore) GetAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var k domain.APIKey
	query := s.rebind(`SELECT * FROM api_keys WHERE hash = ? AND active = true`)
	if err := s.db.GetContext(ctx, &k, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get api key", err)
	}
	return &k, nil
}

func (s *sqlxStore) GetPromptTemplate(ctx context.Context, templateID string, version int) (*domain.PromptTemplate, error) {
	var raw promptTemplateRow
	query := s.rebind(`SELECT * FROM prompt_templates WHERE template_id = ? AND version = ?`)
	if err := s.db.GetContext(ctx, &raw, query, templateID, version); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get prompt template", err)
	}
	return raw.toDomain()
}

func (s *sqlxStore) GetLatestPromptTemplate(ctx context.Context, templateID string) (*domain.PromptTemplate, error) {
	var raw promptTemplateRow
	query := s.rebind(`SELECT * FROM prompt_templates WHERE template_id = ?
		ORDER BY version DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &raw, query, templateID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get latest prompt template", err)
	}
	return raw.toDomain()
}

func (s *sqlxStore) PutPromptTemplate(ctx context.Context, tmpl *domain.PromptTemplate) error {
	adaptations, err := json.Marshal(tmpl.ProviderAdaptations)
	if err != nil {
		return sharederrors.ParseError("prompt adaptations", err)
	}
	params, err := json.Marshal(tmpl.DefaultParams)
	if err != nil {
		return sharederrors.ParseError("prompt default params", err)
	}
	query := s.rebind(`INSERT INTO prompt_templates
		(template_id, version, operation_type, system_prompt, user_prompt_template, provider_adaptations, default_params)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, tmpl.TemplateID, tmpl.Version, tmpl.OperationType,
		tmpl.SystemPrompt, tmpl.UserPromptTemplate, adaptations, params)
	if err != nil {
		return sharederrors.DatabaseError("put prompt template", err)
	}
	return nil
}

// RecordPromptMetric folds one task outcome into the running per-template
// per-provider averages in a single statement, so concurrent pipeline
// workers updating the same template never race on a read-modify-write.
func (s *sqlxStore) RecordPromptMetric(ctx context.Context, templateID, providerID string, success bool, qualityScore, latencyMs float64) error {
	successInt := 0
	if success {
		successInt = 1
	}
	query := s.rebind(`INSERT INTO prompt_metrics
		(template_id, provider_id, uses, successes, mean_quality, mean_latency_ms)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (template_id, provider_id) DO UPDATE SET
			successes = prompt_metrics.successes + excluded.successes,
			mean_quality = (prompt_metrics.mean_quality * prompt_metrics.uses + excluded.mean_quality) / (prompt_metrics.uses + 1),
			mean_latency_ms = (prompt_metrics.mean_latency_ms * prompt_metrics.uses + excluded.mean_latency_ms) / (prompt_metrics.uses + 1),
			uses = prompt_metrics.uses + 1`)
	_, err := s.db.ExecContext(ctx, query, templateID, providerID, successInt, qualityScore, latencyMs)
	if err != nil {
		return sharederrors.DatabaseError("record prompt metric", err)
	}
	return nil
}

func (s *sqlxStore) GetPromptMetric(ctx context.Context, templateID, providerID string) (*domain.PromptMetric, error) {
	var m domain.PromptMetric
	query := s.rebind(`SELECT * FROM prompt_metrics WHERE template_id = ? AND provider_id = ?`)
	if err := s.db.GetContext(ctx, &m, query, templateID, providerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, sharederrors.DatabaseError("get prompt metric", err)
	}
	return &m, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError("rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint", "duplicate key value"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
