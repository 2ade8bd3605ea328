package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

// PackageOperator is the local package service a PackageReplicator wraps.
type PackageOperator interface {
	Add(ctx context.Context, req *model.Package) (*model.Package, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
	DisableExpirePackage(ctx context.Context) ([]*model.Package, error)
	SyncPackageByID(ctx context.Context, id uuid.UUID) (*model.Package, error)
	GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error)
}

// PackageTransport runs the local package operation on one peer.
type PackageTransport interface {
	AddPackage(ctx context.Context, node *model.FleetNode, pkg *model.Package) (*model.Package, error)
	CancelPackage(ctx context.Context, node *model.FleetNode, id uuid.UUID) error
	RemovePackage(ctx context.Context, node *model.FleetNode, id uuid.UUID) error
	DisableExpirePackage(ctx context.Context, node *model.FleetNode) error
	SyncPackage(ctx context.Context, node *model.FleetNode, snapshot *model.Package) error
	GetAllPackageByUsername(ctx context.Context, node *model.FleetNode, username string) ([]*model.Package, error)
}

// PackageReplicator applies package writes locally and then on every peer,
// succeeding unless all peers fail.
type PackageReplicator struct {
	fleet     fleet
	local     PackageOperator
	transport PackageTransport
}

func NewPackageReplicator(
	servers repository.ServerRepository,
	local PackageOperator,
	transport PackageTransport,
	hostIP string,
	logger *zap.Logger,
) *PackageReplicator {
	return &PackageReplicator{
		fleet:     newFleet(servers, hostIP, domainPackage, logger),
		local:     local,
		transport: transport,
	}
}

func (r *PackageReplicator) Add(ctx context.Context, req *model.Package) (*model.Package, error) {
	peers, err := r.fleet.peers(ctx)
	if err != nil {
		return nil, err
	}

	created, err := r.local.Add(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		recordLocalOnly(r.fleet, "add")
		return created, nil
	}

	replica := *created
	replica.IPList = nil
	results := fanOut(ctx, peers, func(ctx context.Context, node *model.FleetNode) (*model.Package, error) {
		return r.transport.AddPackage(ctx, node, &replica)
	})
	if err := joinBestEffort(r.fleet, "add", results); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PackageReplicator) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.replicate(ctx, "cancel",
		func(ctx context.Context) error { return r.local.Cancel(ctx, id) },
		func(ctx context.Context, node *model.FleetNode) error { return r.transport.CancelPackage(ctx, node, id) },
	)
}

func (r *PackageReplicator) Remove(ctx context.Context, id uuid.UUID) error {
	return r.replicate(ctx, "remove",
		func(ctx context.Context) error { return r.local.Remove(ctx, id) },
		func(ctx context.Context, node *model.FleetNode) error { return r.transport.RemovePackage(ctx, node, id) },
	)
}

func (r *PackageReplicator) DisableExpirePackage(ctx context.Context) error {
	return r.replicate(ctx, "disable_expire",
		func(ctx context.Context) error {
			_, err := r.local.DisableExpirePackage(ctx)
			return err
		},
		func(ctx context.Context, node *model.FleetNode) error { return r.transport.DisableExpirePackage(ctx, node) },
	)
}

// PropagateCancel re-sends a package this node already cancelled. Peers
// receive the cancelled snapshot, so a peer that applied the cancel before
// converges without a conflict.
func (r *PackageReplicator) PropagateCancel(ctx context.Context, id uuid.UUID) error {
	var snapshot *model.Package
	return r.replicate(ctx, "propagate_cancel",
		func(ctx context.Context) error {
			pkg, err := r.local.SyncPackageByID(ctx, id)
			if err != nil {
				return err
			}
			if pkg.Status != model.PackageStatusCancel {
				return fmt.Errorf("propagate cancel of package in status %s: %w", pkg.Status, ErrConflict)
			}
			snapshot = pkg
			return nil
		},
		func(ctx context.Context, node *model.FleetNode) error { return r.transport.SyncPackage(ctx, node, snapshot) },
	)
}

// SyncPackageByID pushes the local snapshot of a package to every peer.
func (r *PackageReplicator) SyncPackageByID(ctx context.Context, id uuid.UUID) error {
	var snapshot *model.Package
	return r.replicate(ctx, "sync",
		func(ctx context.Context) error {
			pkg, err := r.local.SyncPackageByID(ctx, id)
			snapshot = pkg
			return err
		},
		func(ctx context.Context, node *model.FleetNode) error { return r.transport.SyncPackage(ctx, node, snapshot) },
	)
}

// GetAllByUsername merges the package lists of every node. Any peer failure
// fails the call.
func (r *PackageReplicator) GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error) {
	peers, err := r.fleet.peers(ctx)
	if err != nil {
		return nil, err
	}

	local, err := r.local.GetAllByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		recordLocalOnly(r.fleet, "get_all_by_username")
		return local, nil
	}

	results := fanOut(ctx, peers, func(ctx context.Context, node *model.FleetNode) ([]*model.Package, error) {
		return r.transport.GetAllPackageByUsername(ctx, node, username)
	})
	remote, err := joinFailFast(r.fleet, "get_all_by_username", results)
	if err != nil {
		return nil, err
	}

	lists := make([][]*model.Package, 0, len(remote)+1)
	lists = append(lists, local)
	lists = append(lists, remote...)
	return mergePackages(lists...), nil
}

func (r *PackageReplicator) replicate(
	ctx context.Context,
	op string,
	local func(context.Context) error,
	remote func(context.Context, *model.FleetNode) error,
) error {
	peers, err := r.fleet.peers(ctx)
	if err != nil {
		return err
	}
	if err := local(ctx); err != nil {
		return err
	}
	if len(peers) == 0 {
		recordLocalOnly(r.fleet, op)
		return nil
	}

	results := fanOut(ctx, peers, func(ctx context.Context, node *model.FleetNode) (struct{}, error) {
		return struct{}{}, remote(ctx, node)
	})
	return joinBestEffort(r.fleet, op, results)
}

// mergePackages dedups by id in first-seen order. Duplicates union their ip
// lists by ip and port and take the union size as CountIP.
func mergePackages(lists ...[]*model.Package) []*model.Package {
	out := make([]*model.Package, 0, 8)
	byID := make(map[uuid.UUID]*model.Package, 8)
	seenIP := make(map[uuid.UUID]map[string]struct{}, 8)

	for _, list := range lists {
		for _, item := range list {
			if item == nil {
				continue
			}

			merged, ok := byID[item.ID]
			if !ok {
				copied := *item
				copied.IPList = append([]model.PackageIP(nil), item.IPList...)
				keys := make(map[string]struct{}, len(copied.IPList))
				for _, ip := range copied.IPList {
					keys[packageIPKey(ip)] = struct{}{}
				}
				byID[item.ID] = &copied
				seenIP[item.ID] = keys
				out = append(out, &copied)
				continue
			}

			keys := seenIP[item.ID]
			for _, ip := range item.IPList {
				key := packageIPKey(ip)
				if _, dup := keys[key]; dup {
					continue
				}
				keys[key] = struct{}{}
				merged.IPList = append(merged.IPList, ip)
			}
			merged.CountIP = len(merged.IPList)
		}
	}
	return out
}

func packageIPKey(ip model.PackageIP) string {
	return fmt.Sprintf("%s:%d", ip.IP, ip.Port)
}
