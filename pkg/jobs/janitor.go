package jobs

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Janitor periodically reclaims jobs whose claim lease expired without a
// heartbeat, putting them back on the queue for another worker.
type Janitor struct {
	manager  *Manager
	interval time.Duration
	logger   logr.Logger
}

// NewJanitor builds a Janitor that sweeps every interval.
func NewJanitor(manager *Manager, interval time.Duration, logger logr.Logger) *Janitor {
	return &Janitor{manager: manager, interval: interval, logger: logger}
}

// Run loops until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.manager.store.ReclaimExpiredLeases(ctx, time.Now())
			if err != nil {
				j.logger.Error(err, "janitor: reclaim expired leases failed")
				continue
			}
			if n > 0 {
				j.logger.Info("janitor: reclaimed expired job leases", "count", n)
			}
		}
	}
}
