// Package sweeper runs the background loop that expires job result blobs
// past their TTL, keeping the blob store's growth bounded without an
// external cron. Upload sessions are not swept here.
package sweeper

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/binsight/core/pkg/storage/structured"
)

// ResultKeyLister is satisfied by the structured store methods the sweeper
// needs; kept narrow so tests can fake it without a real database.
type ResultKeyLister interface {
	ListExpiredJobResults(ctx context.Context, olderThan time.Time) ([]structured.ExpiredJobResult, error)
	DeleteJobResult(ctx context.Context, jobID string) error
}

// BlobDeleter removes a blob by key, ignoring a missing key.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Sweeper periodically deletes blobs whose job completed more than TTL ago.
type Sweeper struct {
	store    ResultKeyLister
	blobs    BlobDeleter
	ttl      time.Duration
	interval time.Duration
	logger   logr.Logger
}

// New builds a Sweeper. ttl and interval must both be positive.
func New(store ResultKeyLister, blobs BlobDeleter, ttl, interval time.Duration, logger logr.Logger) *Sweeper {
	return &Sweeper{store: store, blobs: blobs, ttl: ttl, interval: interval, logger: logger}
}

// Run loops until ctx is cancelled, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce deletes each expired job's blobs (blob first, row second, per
// §4.1's two-phase write being undone in reverse) before clearing the
// metadata row's result flags. A crash or delete failure between the two
// steps leaves the row still marked result_present with its blob gone; the
// next sweep lists that job again and finishes it, since Delete ignores a
// missing key.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)
	results, err := s.store.ListExpiredJobResults(ctx, cutoff)
	if err != nil {
		s.logger.Error(err, "sweeper: list expired results failed")
		return
	}
	for _, r := range results {
		if r.DecompResultKey != "" {
			if err := s.blobs.Delete(ctx, r.DecompResultKey); err != nil {
				s.logger.Error(err, "sweeper: delete decomp blob failed", "job_id", r.JobID)
				continue
			}
		}
		if r.TranslResultKey != "" {
			if err := s.blobs.Delete(ctx, r.TranslResultKey); err != nil {
				s.logger.Error(err, "sweeper: delete translation blob failed", "job_id", r.JobID)
				continue
			}
		}
		if err := s.store.DeleteJobResult(ctx, r.JobID); err != nil {
			s.logger.Error(err, "sweeper: clear job result flags failed", "job_id", r.JobID)
			continue
		}
		s.logger.V(1).Info("swept expired job result", "job_id", r.JobID)
	}
}
