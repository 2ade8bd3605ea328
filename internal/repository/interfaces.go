package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

type ServerRepository interface {
	GetAll(ctx context.Context) ([]*model.FleetNode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.FleetNode, error)
	// GetByIPAddress returns the enabled node whose ip_range covers cidr,
	// or (nil, nil) when no node covers it.
	GetByIPAddress(ctx context.Context, cidr string) (*model.FleetNode, error)
	Add(ctx context.Context, node *model.FleetNode) error
	Update(ctx context.Context, node *model.FleetNode) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type JobRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Add(ctx context.Context, job *model.Job) error
	Update(ctx context.Context, job *model.Job) error
}

type SyncRepository interface {
	Add(ctx context.Context, record *model.SyncRecord) error
	Update(ctx context.Context, record *model.SyncRecord) error
	// Candidate queries skip pairs whose latest record is success or process
	// and pairs with more than failThreshold error records.
	GetPackageNotSynced(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error)
	GetPackageCancelled(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error)
	GetPackageExpired(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error)
	GetUserNotSynced(ctx context.Context, failThreshold int) ([]model.SyncCandidate, error)
	GetInProcessBefore(ctx context.Context, before time.Time) ([]*model.SyncRecord, error)
}

type IPRepository interface {
	GetByIPMask(ctx context.Context, cidr string) ([]*model.IPAddress, error)
	GetAll(ctx context.Context) ([]*model.IPAddress, error)
	ActiveIPMask(ctx context.Context, cidr string) error
	AddBatch(ctx context.Context, addresses []*model.IPAddress) (int, error)
	DeleteByIPMask(ctx context.Context, cidr string) (int, error)
}

type PackageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Package, error)
	GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error)
	// Add stores the package together with its IPList in one transaction.
	Add(ctx context.Context, pkg *model.Package) error
	Update(ctx context.Context, pkg *model.Package) error
	// FindAvailableIPs returns active addresses of the given type and country
	// not already held by an enabled package of the user.
	FindAvailableIPs(ctx context.Context, userID uuid.UUID, ipType, country string, limit int) ([]model.PackageIP, error)
	ReplaceIPs(ctx context.Context, packageID uuid.UUID, ips []model.PackageIP) error
	ExpireBefore(ctx context.Context, at time.Time) ([]*model.Package, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Add(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
}
