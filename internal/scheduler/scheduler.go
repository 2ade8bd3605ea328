package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultPackageSyncSpec        = "0 */5 * * * *"
	DefaultCancelSubscriptionSpec = "30 */5 * * * *"
	DefaultExpirePackageSpec      = "0 */10 * * * *"
	DefaultUserSyncSpec           = "15 */5 * * * *"
	DefaultStaleSweepSpec         = "*/30 * * * * *"
	DefaultPackageExpirySpec      = "0 0 * * * *"
)

// Specs are six-field cron expressions (seconds first).
type Specs struct {
	PackageSync        string
	CancelSubscription string
	ExpirePackage      string
	UserSync           string
	StaleSweep         string
	PackageExpiry      string
}

func DefaultSpecs() Specs {
	return Specs{
		PackageSync:        DefaultPackageSyncSpec,
		CancelSubscription: DefaultCancelSubscriptionSpec,
		ExpirePackage:      DefaultExpirePackageSpec,
		UserSync:           DefaultUserSyncSpec,
		StaleSweep:         DefaultStaleSweepSpec,
		PackageExpiry:      DefaultPackageExpirySpec,
	}
}

type SyncTask interface {
	SyncPackages()
	CancelSubscriptions()
	ExpirePackages()
	SyncUsers()
	SweepStaleClaims()
}

type ExpiryTask interface {
	CheckExpiry()
}

type Deps struct {
	SyncJob   SyncTask
	ExpiryJob ExpiryTask
}

func NewScheduler(specs Specs, deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}
	specs = specs.withDefaults()

	// A pass that outlives its period is skipped at the next firing, so each
	// pass keeps a single sequential owner.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{sugar: logger.Sugar()})),
	)

	if deps.SyncJob != nil {
		addFunc(c, specs.PackageSync, "sync.package", logger, deps.SyncJob.SyncPackages)
		addFunc(c, specs.CancelSubscription, "sync.cancel_subscription", logger, deps.SyncJob.CancelSubscriptions)
		addFunc(c, specs.ExpirePackage, "sync.expire_package", logger, deps.SyncJob.ExpirePackages)
		addFunc(c, specs.UserSync, "sync.user", logger, deps.SyncJob.SyncUsers)
		addFunc(c, specs.StaleSweep, "sync.stale_claim_sweep", logger, deps.SyncJob.SweepStaleClaims)
	}
	if deps.ExpiryJob != nil {
		addFunc(c, specs.PackageExpiry, "package.check_expiry", logger, deps.ExpiryJob.CheckExpiry)
	}

	return c
}

func (s Specs) withDefaults() Specs {
	defaults := DefaultSpecs()
	if s.PackageSync == "" {
		s.PackageSync = defaults.PackageSync
	}
	if s.CancelSubscription == "" {
		s.CancelSubscription = defaults.CancelSubscription
	}
	if s.ExpirePackage == "" {
		s.ExpirePackage = defaults.ExpirePackage
	}
	if s.UserSync == "" {
		s.UserSync = defaults.UserSync
	}
	if s.StaleSweep == "" {
		s.StaleSweep = defaults.StaleSweep
	}
	if s.PackageExpiry == "" {
		s.PackageExpiry = defaults.PackageExpiry
	}
	return s
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if logger == nil {
		return
	}

	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}

// cronLogger routes cron's own messages (skipped runs) into zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
