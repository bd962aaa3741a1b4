package handlers

import (
	"context"
	"time"

	"bursar/internal/pending"
	"bursar/pkg/logging"
)

// Pending entries older than this are considered abandoned: the user left
// for the provider and never came back.
const pendingExpiry = 12 * time.Hour

// JobManager handles background maintenance jobs.
type JobManager struct {
	store  pending.Store
	logger logging.Logger
	stopCh chan struct{}
}

// NewJobManager creates a new job manager.
func NewJobManager(store pending.Store, log logging.Logger) *JobManager {
	return &JobManager{
		store:  store,
		logger: log,
		stopCh: make(chan struct{}),
	}
}

// Start begins all background jobs.
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting checkout job manager")
	go jm.runPendingSweep(ctx)
}

// Stop stops all background jobs.
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping checkout job manager")
	close(jm.stopCh)
}

// runPendingSweep periodically removes abandoned pending transactions so
// the store does not accumulate checkouts nobody will ever resume.
func (jm *JobManager) runPendingSweep(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	// Run once at startup to clean up anything left from a previous run.
	jm.sweepPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.sweepPending(ctx)
		}
	}
}

func (jm *JobManager) sweepPending(ctx context.Context) {
	cutoff := time.Now().Add(-pendingExpiry)
	swept, err := jm.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		jm.logger.WithFields(logging.Fields{"error": err.Error()}).Error("Pending transaction sweep failed")
		return
	}
	if swept > 0 {
		jm.logger.WithFields(logging.Fields{"swept": swept}).Info("Swept abandoned pending transactions")
	}
	if pendingSweptTotal != nil {
		pendingSweptTotal.WithLabelValues().Add(float64(swept))
	}
}
