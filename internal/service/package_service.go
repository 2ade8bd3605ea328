package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

// PackageService runs package operations against this node's storage only.
type PackageService struct {
	packages repository.PackageRepository
	users    repository.UserRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewPackageService(packages repository.PackageRepository, users repository.UserRepository, logger *zap.Logger) *PackageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackageService{
		packages: packages,
		users:    users,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Add allocates up to CountIP addresses the user does not already hold. A
// non-nil ID is kept so every node stores the package under the same id.
func (s *PackageService) Add(ctx context.Context, req *model.Package) (*model.Package, error) {
	if err := s.validateAdd(req); err != nil {
		return nil, err
	}
	if req.ExpireDate != nil && !req.ExpireDate.After(s.now()) {
		return nil, fmt.Errorf("%w: expire date must be in the future", ErrInvalidInput)
	}
	return s.add(ctx, req)
}

func (s *PackageService) add(ctx context.Context, req *model.Package) (*model.Package, error) {

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, storeError("get package owner", err)
	}

	if req.ID != uuid.Nil {
		_, err := s.packages.GetByID(ctx, req.ID)
		if err == nil {
			return nil, fmt.Errorf("package %s: %w", req.ID, ErrConflict)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, infraError("get package", err)
		}
	}

	ips, err := s.packages.FindAvailableIPs(ctx, user.ID, req.Type, req.Country, req.CountIP)
	if err != nil {
		return nil, infraError("find available ips", err)
	}
	if len(ips) == 0 {
		return nil, ErrCapacityExhausted
	}

	pkg := &model.Package{
		ID:         req.ID,
		UserID:     user.ID,
		Username:   user.Username,
		CountIP:    len(ips),
		Type:       req.Type,
		Country:    req.Country,
		Status:     model.PackageStatusEnable,
		Renewal:    req.Renewal,
		ExpireDate: req.ExpireDate,
		InsertDate: s.now(),
		IPList:     ips,
	}
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}

	if err := s.packages.Add(ctx, pkg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("package %s: %w", pkg.ID, ErrConflict)
		}
		return nil, infraError("insert package", err)
	}

	if len(ips) < req.CountIP {
		s.logger.Warn("package allocated fewer addresses than requested",
			zap.String("package_id", pkg.ID.String()),
			zap.Int("requested", req.CountIP),
			zap.Int("allocated", len(ips)),
		)
	}
	return pkg, nil
}

func (s *PackageService) Cancel(ctx context.Context, id uuid.UUID) error {
	pkg, err := s.packages.GetByID(ctx, id)
	if err != nil {
		return storeError("get package", err)
	}

	if pkg.Status != model.PackageStatusEnable {
		return fmt.Errorf("cancel package in status %s: %w", pkg.Status, ErrConflict)
	}

	now := s.now()
	pkg.Status = model.PackageStatusCancel
	pkg.Renewal = false
	pkg.CancelDate = &now
	if err := s.packages.Update(ctx, pkg); err != nil {
		return storeError("update package", err)
	}
	return nil
}

// Remove disables the package and releases its addresses.
func (s *PackageService) Remove(ctx context.Context, id uuid.UUID) error {
	pkg, err := s.packages.GetByID(ctx, id)
	if err != nil {
		return storeError("get package", err)
	}

	if pkg.Status != model.PackageStatusDisable {
		pkg.Status = model.PackageStatusDisable
		pkg.Renewal = false
		if err := s.packages.Update(ctx, pkg); err != nil {
			return storeError("update package", err)
		}
	}
	if err := s.packages.ReplaceIPs(ctx, pkg.ID, nil); err != nil {
		return infraError("release package ips", err)
	}
	return nil
}

func (s *PackageService) DisableExpirePackage(ctx context.Context) ([]*model.Package, error) {
	expired, err := s.packages.ExpireBefore(ctx, s.now())
	if err != nil {
		return nil, infraError("expire packages", err)
	}
	if len(expired) > 0 {
		s.logger.Info("packages expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// SyncPackageByID returns the canonical snapshot peers should converge to.
func (s *PackageService) SyncPackageByID(ctx context.Context, id uuid.UUID) (*model.Package, error) {
	pkg, err := s.packages.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get package", err)
	}
	return pkg, nil
}

// ApplySnapshot converges the local copy of a package to snapshot, creating
// it from this node's own inventory when it is missing.
func (s *PackageService) ApplySnapshot(ctx context.Context, snapshot *model.Package) (*model.Package, error) {
	if snapshot == nil || snapshot.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: package snapshot without id", ErrInvalidInput)
	}

	pkg, err := s.packages.GetByID(ctx, snapshot.ID)
	if errors.Is(err, repository.ErrNotFound) {
		if snapshot.Status != model.PackageStatusEnable && snapshot.Status != model.PackageStatusCancel {
			return nil, nil
		}
		// No expire date check here: a passed date is left to the expiry run.
		if err := s.validateAdd(snapshot); err != nil {
			return nil, err
		}
		created, err := s.add(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		pkg = created
	} else if err != nil {
		return nil, infraError("get package", err)
	}

	pkg.Status = snapshot.Status
	pkg.Renewal = snapshot.Renewal
	pkg.ExpireDate = snapshot.ExpireDate
	pkg.CancelDate = snapshot.CancelDate
	if err := s.packages.Update(ctx, pkg); err != nil {
		return nil, storeError("update package", err)
	}

	if pkg.Status == model.PackageStatusDisable {
		if err := s.packages.ReplaceIPs(ctx, pkg.ID, nil); err != nil {
			return nil, infraError("release package ips", err)
		}
		pkg.IPList = []model.PackageIP{}
	}
	return pkg, nil
}

func (s *PackageService) GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	packages, err := s.packages.GetAllByUsername(ctx, name)
	if err != nil {
		return nil, infraError("list packages", err)
	}
	return packages, nil
}

func (s *PackageService) validateAdd(req *model.Package) error {
	if req == nil {
		return fmt.Errorf("%w: package is required", ErrInvalidInput)
	}
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if req.CountIP <= 0 {
		return fmt.Errorf("%w: count ip must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Type) == "" {
		return fmt.Errorf("%w: ip type is required", ErrInvalidInput)
	}
	return nil
}
