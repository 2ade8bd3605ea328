package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type PackageExpirer interface {
	DisableExpirePackage(ctx context.Context) error
}

// PackageExpiryJob moves packages past their expire date to expire on every
// fleet member.
type PackageExpiryJob struct {
	packages PackageExpirer
	logger   *zap.Logger
}

func NewPackageExpiryJob(packages PackageExpirer, logger *zap.Logger) *PackageExpiryJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PackageExpiryJob{
		packages: packages,
		logger:   logger,
	}
}

func (j *PackageExpiryJob) CheckExpiry() {
	if j == nil || j.packages == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.packages.DisableExpirePackage(ctx); err != nil {
		j.logger.Warn("package expiry check failed", zap.Error(err))
	}
}
