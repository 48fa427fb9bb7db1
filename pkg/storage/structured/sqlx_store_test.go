package structured

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binsight/core/pkg/domain"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStoreFromDB(sqlxDB), mock
}

func TestCreateJob_Success(t *testing.T) {
	store, mock := newMockStore(t)
	job := &domain.Job{
		ID: "job-1", Owner: "acme", FileRef: "blob-sha", CreatedAt: time.Now(),
		Status: domain.JobQueued, Priority: 5, VisibleAt: time.Now(), MaxAttempts: 3,
	}
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateJob(context.Background(), job)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_UniqueViolationMapsToConflict(t *testing.T) {
	store, mock := newMockStore(t)
	job := &domain.Job{ID: "job-2", Owner: "acme", FileRef: "blob-sha", IdempotencyKey: "dup"}
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(assertError("duplicate key value violates unique constraint"))

	err := store.CreateJob(context.Background(), job)

	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = ?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.GetJob(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReclaimExpiredLeases_ReturnsCount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET status = 'queued'").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ReclaimExpiredLeases(context.Background(), time.Now())

	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

type assertError string

func (e assertError) Error() string { return string(e) }
