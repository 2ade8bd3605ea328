package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const syncPassTimeout = 5 * time.Minute

// SyncRunner is the reconciliation service driven by the scheduler.
type SyncRunner interface {
	ExecutePackageSync(ctx context.Context) error
	ExecuteCancelSubscription(ctx context.Context) error
	ExecuteExpirePackage(ctx context.Context) error
	ExecuteUserSync(ctx context.Context) error
	ExecuteFindInProcessHasBeenExpired(ctx context.Context) error
}

type SyncJob struct {
	runner  SyncRunner
	timeout time.Duration
	logger  *zap.Logger
}

func NewSyncJob(runner SyncRunner, logger *zap.Logger) *SyncJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncJob{
		runner:  runner,
		timeout: syncPassTimeout,
		logger:  logger,
	}
}

func (j *SyncJob) SyncPackages() {
	j.run("sync_package", func(ctx context.Context) error { return j.runner.ExecutePackageSync(ctx) })
}

func (j *SyncJob) CancelSubscriptions() {
	j.run("cancel_subscription", func(ctx context.Context) error { return j.runner.ExecuteCancelSubscription(ctx) })
}

func (j *SyncJob) ExpirePackages() {
	j.run("expire_package", func(ctx context.Context) error { return j.runner.ExecuteExpirePackage(ctx) })
}

func (j *SyncJob) SyncUsers() {
	j.run("sync_user", func(ctx context.Context) error { return j.runner.ExecuteUserSync(ctx) })
}

func (j *SyncJob) SweepStaleClaims() {
	j.run("stale_claim_sweep", func(ctx context.Context) error { return j.runner.ExecuteFindInProcessHasBeenExpired(ctx) })
}

func (j *SyncJob) run(pass string, fn func(ctx context.Context) error) {
	if j == nil || j.runner == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		j.logger.Warn("reconciliation pass failed", zap.String("pass", pass), zap.Error(err))
	}
}
