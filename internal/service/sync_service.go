package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/metrics"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

const (
	// SyncFailThreshold is the number of error records after which a pair is
	// treated as permanently failed.
	SyncFailThreshold = 3
	// SyncInProcessLimit is how long a process claim stays live.
	SyncInProcessLimit = 60 * time.Second
)

type PackageSyncer interface {
	SyncPackageByID(ctx context.Context, id uuid.UUID) error
	PropagateCancel(ctx context.Context, id uuid.UUID) error
}

type UserSyncer interface {
	SyncPassword(ctx context.Context, id uuid.UUID) error
}

// SyncService re-drives entities whose peers may have drifted from this
// node. Every attempt is recorded as a process claim that ends in success or
// error.
type SyncService struct {
	records  repository.SyncRepository
	packages PackageSyncer
	users    UserSyncer
	logger   *zap.Logger
	now      func() time.Time
}

func NewSyncService(records repository.SyncRepository, packages PackageSyncer, users UserSyncer, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		records:  records,
		packages: packages,
		users:    users,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SyncService) ExecutePackageSync(ctx context.Context) error {
	return s.runPass(ctx, model.SyncServicePackage, s.records.GetPackageNotSynced, s.packages.SyncPackageByID)
}

func (s *SyncService) ExecuteCancelSubscription(ctx context.Context) error {
	return s.runPass(ctx, model.SyncServiceCancelSubscription, s.records.GetPackageCancelled, s.packages.PropagateCancel)
}

func (s *SyncService) ExecuteExpirePackage(ctx context.Context) error {
	return s.runPass(ctx, model.SyncServiceExpirePackage, s.records.GetPackageExpired, s.packages.SyncPackageByID)
}

func (s *SyncService) ExecuteUserSync(ctx context.Context) error {
	return s.runPass(ctx, model.SyncServiceUser, s.records.GetUserNotSynced, s.users.SyncPassword)
}

// ExecuteFindInProcessHasBeenExpired moves process claims older than
// SyncInProcessLimit to error.
func (s *SyncService) ExecuteFindInProcessHasBeenExpired(ctx context.Context) error {
	stale, err := s.records.GetInProcessBefore(ctx, s.now().Add(-SyncInProcessLimit))
	if err != nil {
		return infraError("find stale sync claims", err)
	}

	moved := 0
	for _, record := range stale {
		record.Status = model.SyncStatusError
		if err := s.records.Update(ctx, record); err != nil {
			s.logger.Warn("expire stale sync claim failed",
				zap.String("sync_id", record.ID.String()),
				zap.String("service", string(record.ServiceName)),
				zap.Error(err),
			)
			continue
		}
		moved++
	}

	metrics.AddStaleClaims(moved)
	if moved > 0 {
		s.logger.Info("stale sync claims expired", zap.Int("count", moved))
	}
	return nil
}

func (s *SyncService) runPass(
	ctx context.Context,
	service model.SyncService,
	fetch func(context.Context, int) ([]model.SyncCandidate, error),
	execute func(context.Context, uuid.UUID) error,
) error {
	log := s.logger.With(zap.String("service", string(service)))

	candidates, err := fetch(ctx, SyncFailThreshold)
	if err != nil {
		return infraError("fetch "+string(service)+" candidates", err)
	}

	succeeded, failed := 0, 0
	for _, candidate := range s.dropLiveCandidates(candidates) {
		if err := ctx.Err(); err != nil {
			return err
		}

		claim := &model.SyncRecord{
			ReferencesID: candidate.ReferencesID,
			ServiceName:  service,
			Status:       model.SyncStatusProcess,
			InsertDate:   s.now(),
		}
		if err := s.records.Add(ctx, claim); err != nil {
			log.Warn("sync claim failed", zap.String("references_id", candidate.ReferencesID.String()), zap.Error(err))
			metrics.RecordSyncItem(string(service), "claim_failed")
			continue
		}

		claim.Status = model.SyncStatusSuccess
		if err := execute(ctx, candidate.ReferencesID); err != nil {
			log.Warn("sync item failed", zap.String("references_id", candidate.ReferencesID.String()), zap.Error(err))
			claim.Status = model.SyncStatusError
			failed++
		} else {
			succeeded++
		}
		metrics.RecordSyncItem(string(service), string(claim.Status))

		if err := s.records.Update(ctx, claim); err != nil {
			log.Error("sync result not recorded",
				zap.String("sync_id", claim.ID.String()),
				zap.String("status", string(claim.Status)),
				zap.Error(err),
			)
		}
	}

	if succeeded+failed > 0 {
		log.Info("sync pass finished", zap.Int("success", succeeded), zap.Int("error", failed))
	}
	return nil
}

// dropLiveCandidates removes candidates that are still inside the in-process
// window while in process, success or derived fail state.
func (s *SyncService) dropLiveCandidates(candidates []model.SyncCandidate) []model.SyncCandidate {
	cutoff := s.now().Add(-SyncInProcessLimit)
	out := make([]model.SyncCandidate, 0, len(candidates))
	for _, item := range candidates {
		switch item.DerivedStatus(SyncFailThreshold) {
		case model.SyncStatusProcess, model.SyncStatusSuccess, model.SyncStatusFail:
			if !item.LastTouched.Before(cutoff) {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}
