// Package orchestrator is C9: it composes one job's full execution —
// artifact load, C4 extraction, a restart-safe checkpoint, optional C8
// translation, and terminal reporting to C3 — and emits the heartbeats a
// worker needs to keep its lease alive while all of that runs.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
)

// weights are the heartbeat progress formula's coefficients.
const (
	weightFormatDetected = 0.1
	weightExtractionDone = 0.4
	weightTranslationDone = 0.5
)

// JobReporter is the slice of C3 the orchestrator drives.
type JobReporter interface {
	Heartbeat(ctx context.Context, jobID, workerID string, progress float64) error
	CheckpointDecompilation(ctx context.Context, jobID, decompResultKey string) error
	Complete(ctx context.Context, jobID, workerID, decompResultKey, translResultKey string) error
	Fail(ctx context.Context, jobID, workerID string, jobErr *domain.JobError, retryable bool) error
}

// ArtifactReader is the slice of C1 needed to resolve a job's binary.
type ArtifactReader interface {
	GetArtifact(ctx context.Context, sha256 string) (*domain.BinaryArtifact, error)
}

// BlobStore is the slice of C1's blob half the orchestrator round-trips
// binaries and result payloads through.
type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	PutCompressed(ctx context.Context, key string, r io.Reader) (int64, error)
	GetCompressed(ctx context.Context, key string) (io.ReadCloser, error)
}

// EngineSession is C4's Analyze call, narrowed for substitution in tests.
type EngineSession interface {
	Analyze(ctx context.Context, jobID, filePath, formatHint string) (*domain.DecompilationResult, error)
}

// TranslationRunner is C8's entry point, narrowed for substitution in tests.
type TranslationRunner interface {
	Run(ctx context.Context, decomp *domain.DecompilationResult, spec *domain.TranslationSpec, owner, tier string, cancelled <-chan struct{}) (*domain.TranslationResult, error)
}

// Orchestrator drives one job end to end.
type Orchestrator struct {
	jobs      JobReporter
	artifacts ArtifactReader
	blobs     BlobStore
	engine    EngineSession
	translate TranslationRunner
	lease     time.Duration
	logger    logr.Logger
}

func New(jobs JobReporter, artifacts ArtifactReader, blobs BlobStore, engine EngineSession, translate TranslationRunner, lease time.Duration, logger logr.Logger) *Orchestrator {
	return &Orchestrator{jobs: jobs, artifacts: artifacts, blobs: blobs, engine: engine, translate: translate, lease: lease, logger: logger}
}

// progressTracker holds the three boolean stage flags the heartbeat
// formula weighs, updated from whichever goroutine reaches that stage.
type progressTracker struct {
	formatDetected  atomic.Bool
	extractionDone  atomic.Bool
	translationDone atomic.Bool
}

func (t *progressTracker) value() float64 {
	var v float64
	if t.formatDetected.Load() {
		v += weightFormatDetected
	}
	if t.extractionDone.Load() {
		v += weightExtractionDone
	}
	if t.translationDone.Load() {
		v += weightTranslationDone
	}
	return v
}

// Execute runs job to completion. tier is the owner's rate-limit tier,
// needed by C8's budget check; cancelled, if non-nil, is closed to abort
// an in-flight translation early.
func (o *Orchestrator) Execute(ctx context.Context, job *domain.Job, workerID, tier string, cancelled <-chan struct{}) error {
	tracker := &progressTracker{}
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.heartbeatLoop(hbCtx, job.ID, workerID, tracker)

	decomp, decompKey, err := o.loadOrExtract(ctx, job, tracker)
	if err != nil {
		return o.fail(ctx, job.ID, workerID, err)
	}

	var translKey string
	if job.TranslationSpec != nil {
		result, err := o.translate.Run(ctx, decomp, job.TranslationSpec, job.Owner, tier, cancelled)
		if err != nil {
			return o.fail(ctx, job.ID, workerID, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "run translation pipeline"))
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return o.fail(ctx, job.ID, workerID, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal translation result"))
		}
		translKey = "results/translation/" + job.ID + ".json"
		if _, err := o.blobs.PutCompressed(ctx, translKey, bytes.NewReader(payload)); err != nil {
			return o.fail(ctx, job.ID, workerID, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "persist translation result"))
		}
	}
	tracker.translationDone.Store(true)

	if err := o.jobs.Complete(ctx, job.ID, workerID, decompKey, translKey); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "report job completion")
	}
	return nil
}

// loadOrExtract resolves the artifact, and either resumes from an
// already-checkpointed decompilation result (crash recovery) or runs
// extraction and persists the new checkpoint.
func (o *Orchestrator) loadOrExtract(ctx context.Context, job *domain.Job, tracker *progressTracker) (*domain.DecompilationResult, string, error) {
	if job.DecompResultKey != "" {
		decomp, err := o.readDecompResult(ctx, job.DecompResultKey)
		if err != nil {
			return nil, "", err
		}
		tracker.formatDetected.Store(true)
		tracker.extractionDone.Store(true)
		return decomp, job.DecompResultKey, nil
	}

	artifact, err := o.artifacts.GetArtifact(ctx, job.FileRef)
	if err != nil {
		return nil, "", apperrors.NewNotFoundError("binary artifact").WithDetailsf("file_ref: %s", job.FileRef)
	}

	tmpFile, err := o.stageBinary(ctx, artifact.PathInStore)
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(tmpFile)
	tracker.formatDetected.Store(true)

	decomp, err := o.engine.Analyze(ctx, job.ID, tmpFile, string(artifact.Format))
	if err != nil {
		return nil, "", err
	}

	payload, err := json.Marshal(decomp)
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal decompilation result")
	}
	decompKey := "results/decomp/" + job.ID + ".json"
	if _, err := o.blobs.PutCompressed(ctx, decompKey, bytes.NewReader(payload)); err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "persist decompilation result")
	}
	if err := o.jobs.CheckpointDecompilation(ctx, job.ID, decompKey); err != nil {
		return nil, "", err
	}
	tracker.extractionDone.Store(true)
	return decomp, decompKey, nil
}

func (o *Orchestrator) readDecompResult(ctx context.Context, key string) (*domain.DecompilationResult, error) {
	rc, err := o.blobs.GetCompressed(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "read checkpointed decompilation result")
	}
	defer rc.Close()
	var decomp domain.DecompilationResult
	if err := json.NewDecoder(rc).Decode(&decomp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode checkpointed decompilation result")
	}
	return &decomp, nil
}

// stageBinary copies the artifact's blob content to a temp file on disk,
// since the engine subprocess needs a file path, not a stream.
func (o *Orchestrator) stageBinary(ctx context.Context, pathInStore string) (string, error) {
	rc, err := o.blobs.Get(ctx, pathInStore)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "read binary artifact blob")
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "binsight-artifact-*")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create staging file")
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		os.Remove(f.Name())
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "stage binary artifact")
	}
	return f.Name(), nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID, workerID string, cause error) error {
	appErr, ok := cause.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.Wrap(cause, apperrors.ErrorTypeInternal, "orchestrator execution failed")
	}
	retryable := appErr.Type != apperrors.ErrorTypeNotFound && appErr.Type != apperrors.ErrorTypeValidation
	jobErr := &domain.JobError{Code: appErr.Code, Message: appErr.Message, Hint: appErr.Details}
	if err := o.jobs.Fail(ctx, jobID, workerID, jobErr, retryable); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "report job failure")
	}
	return appErr
}

// heartbeatLoop sends a progress heartbeat at least every lease/3 until ctx
// is cancelled, well inside the lease's expiry window.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, jobID, workerID string, tracker *progressTracker) {
	interval := o.lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.jobs.Heartbeat(ctx, jobID, workerID, tracker.value()); err != nil {
				o.logger.Error(err, "orchestrator: heartbeat failed", "job_id", jobID, "worker_id", workerID)
			}
		}
	}
}

