package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
)

type fakeJobReporter struct {
	heartbeats     []float64
	decompKey      string
	completedKeys  [2]string
	failed         *domain.JobError
	failedRetryable bool
}

func (f *fakeJobReporter) Heartbeat(ctx context.Context, jobID, workerID string, progress float64) error {
	f.heartbeats = append(f.heartbeats, progress)
	return nil
}

func (f *fakeJobReporter) CheckpointDecompilation(ctx context.Context, jobID, decompResultKey string) error {
	f.decompKey = decompResultKey
	return nil
}

func (f *fakeJobReporter) Complete(ctx context.Context, jobID, workerID, decompResultKey, translResultKey string) error {
	f.completedKeys = [2]string{decompResultKey, translResultKey}
	return nil
}

func (f *fakeJobReporter) Fail(ctx context.Context, jobID, workerID string, jobErr *domain.JobError, retryable bool) error {
	f.failed = jobErr
	f.failedRetryable = retryable
	return nil
}

type fakeArtifacts struct {
	artifact *domain.BinaryArtifact
	err      error
}

func (f *fakeArtifacts) GetArtifact(ctx context.Context, sha256 string) (*domain.BinaryArtifact, error) {
	return f.artifact, f.err
}

type fakeBlobs struct {
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: make(map[string][]byte)} }

func (f *fakeBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := f.data[key]
	if !ok {
		return nil, assertionError{}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) PutCompressed(ctx context.Context, key string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.data[key] = b
	return int64(len(b)), nil
}

func (f *fakeBlobs) GetCompressed(ctx context.Context, key string) (io.ReadCloser, error) {
	return f.Get(ctx, key)
}

type assertionError struct{}

func (assertionError) Error() string { return "not found" }

type fakeEngine struct {
	result *domain.DecompilationResult
	err    error
	calls  int
}

func (f *fakeEngine) Analyze(ctx context.Context, jobID, filePath, formatHint string) (*domain.DecompilationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeTranslator struct {
	result *domain.TranslationResult
	err    error
	calls  int
}

func (f *fakeTranslator) Run(ctx context.Context, decomp *domain.DecompilationResult, spec *domain.TranslationSpec, owner, tier string, cancelled <-chan struct{}) (*domain.TranslationResult, error) {
	f.calls++
	return f.result, f.err
}

func testJob() *domain.Job {
	return &domain.Job{ID: "job-1", Owner: "owner-1", FileRef: "deadbeef"}
}

func TestExecute_FreshJob_ExtractsAndChecks(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.data["artifacts/deadbeef"] = []byte("binary-bytes")
	artifacts := &fakeArtifacts{artifact: &domain.BinaryArtifact{SHA256: "deadbeef", PathInStore: "artifacts/deadbeef", Format: domain.FormatPE}}
	engine := &fakeEngine{result: &domain.DecompilationResult{JobID: "job-1", Status: "ok"}}
	reporter := &fakeJobReporter{}

	o := New(reporter, artifacts, blobs, engine, &fakeTranslator{}, 300*time.Millisecond, logr.Discard())
	err := o.Execute(context.Background(), testJob(), "worker-1", "free", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, "results/decomp/job-1.json", reporter.decompKey)
	assert.Equal(t, "results/decomp/job-1.json", reporter.completedKeys[0])
	assert.Empty(t, reporter.completedKeys[1])
	assert.Nil(t, reporter.failed)

	var persisted domain.DecompilationResult
	require.NoError(t, json.Unmarshal(blobs.data["results/decomp/job-1.json"], &persisted))
	assert.Equal(t, "job-1", persisted.JobID)
}

func TestExecute_CrashRecovery_SkipsExtraction(t *testing.T) {
	blobs := newFakeBlobs()
	existing, _ := json.Marshal(&domain.DecompilationResult{JobID: "job-1", Status: "ok"})
	blobs.data["results/decomp/job-1.json"] = existing

	engine := &fakeEngine{}
	reporter := &fakeJobReporter{}
	job := testJob()
	job.DecompResultKey = "results/decomp/job-1.json"

	o := New(reporter, &fakeArtifacts{}, blobs, engine, &fakeTranslator{}, time.Second, logr.Discard())
	err := o.Execute(context.Background(), job, "worker-1", "free", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, engine.calls, "extraction must be skipped on recovery")
	assert.Equal(t, "results/decomp/job-1.json", reporter.completedKeys[0])
}

func TestExecute_WithTranslationSpec_RunsPipelineAndPersistsResult(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.data["artifacts/deadbeef"] = []byte("binary-bytes")
	artifacts := &fakeArtifacts{artifact: &domain.BinaryArtifact{SHA256: "deadbeef", PathInStore: "artifacts/deadbeef", Format: domain.FormatELF}}
	engine := &fakeEngine{result: &domain.DecompilationResult{JobID: "job-1"}}
	translator := &fakeTranslator{result: &domain.TranslationResult{JobID: "job-1", Status: domain.TranslationCompleted}}
	reporter := &fakeJobReporter{}

	job := testJob()
	job.TranslationSpec = &domain.TranslationSpec{MaxConcurrency: 2}

	o := New(reporter, artifacts, blobs, engine, translator, time.Second, logr.Discard())
	err := o.Execute(context.Background(), job, "worker-1", "free", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, translator.calls)
	assert.Equal(t, "results/translation/job-1.json", reporter.completedKeys[1])
	_, ok := blobs.data["results/translation/job-1.json"]
	assert.True(t, ok)
}

func TestExecute_MissingArtifact_FailsJobNotRetryable(t *testing.T) {
	reporter := &fakeJobReporter{}
	o := New(reporter, &fakeArtifacts{err: assertionError{}}, newFakeBlobs(), &fakeEngine{}, &fakeTranslator{}, time.Second, logr.Discard())

	err := o.Execute(context.Background(), testJob(), "worker-1", "free", nil)
	require.Error(t, err)
	require.NotNil(t, reporter.failed)
	assert.False(t, reporter.failedRetryable)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err))
}

func TestExecute_EngineFailure_FailsJobRetryable(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.data["artifacts/deadbeef"] = []byte("binary-bytes")
	artifacts := &fakeArtifacts{artifact: &domain.BinaryArtifact{SHA256: "deadbeef", PathInStore: "artifacts/deadbeef"}}
	engine := &fakeEngine{err: apperrors.NewEngineError("engine_crashed", "boom")}
	reporter := &fakeJobReporter{}

	o := New(reporter, artifacts, blobs, engine, &fakeTranslator{}, time.Second, logr.Discard())
	err := o.Execute(context.Background(), testJob(), "worker-1", "free", nil)
	require.Error(t, err)
	require.NotNil(t, reporter.failed)
	assert.True(t, reporter.failedRetryable)
}
