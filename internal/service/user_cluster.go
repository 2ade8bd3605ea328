package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type UserOperator interface {
	Add(ctx context.Context, username, password string) (*model.User, error)
	AddAdmin(ctx context.Context, username, password string) (*model.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, password string) (*model.User, error)
	Disable(ctx context.Context, id uuid.UUID) (*model.User, error)
	Enable(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// UserTransport sends already-hashed credentials so every node stores the
// same hash.
type UserTransport interface {
	AddUser(ctx context.Context, node *model.FleetNode, user *model.User) error
	ChangeUserPassword(ctx context.Context, node *model.FleetNode, id uuid.UUID, passwordHash string) error
	ChangeUserStatus(ctx context.Context, node *model.FleetNode, id uuid.UUID, isEnable bool) error
}

// UserReplicator applies user writes locally and then on every peer. The
// first peer failure is returned even though the local write already
// committed; the sync_user reconciliation pass repairs the drift.
type UserReplicator struct {
	fleet     fleet
	local     UserOperator
	transport UserTransport
}

func NewUserReplicator(
	servers repository.ServerRepository,
	local UserOperator,
	transport UserTransport,
	hostIP string,
	logger *zap.Logger,
) *UserReplicator {
	return &UserReplicator{
		fleet:     newFleet(servers, hostIP, domainUser, logger),
		local:     local,
		transport: transport,
	}
}

func (r *UserReplicator) Add(ctx context.Context, username, password string) (*model.User, error) {
	return r.replicateUser(ctx, "add",
		func(ctx context.Context) (*model.User, error) { return r.local.Add(ctx, username, password) },
		r.transport.AddUser,
	)
}

func (r *UserReplicator) AddAdmin(ctx context.Context, username, password string) (*model.User, error) {
	return r.replicateUser(ctx, "add_admin",
		func(ctx context.Context) (*model.User, error) { return r.local.AddAdmin(ctx, username, password) },
		r.transport.AddUser,
	)
}

func (r *UserReplicator) ChangePassword(ctx context.Context, id uuid.UUID, password string) (*model.User, error) {
	return r.replicateUser(ctx, "change_password",
		func(ctx context.Context) (*model.User, error) { return r.local.ChangePassword(ctx, id, password) },
		r.sendPassword,
	)
}

func (r *UserReplicator) Disable(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.replicateUser(ctx, "disable",
		func(ctx context.Context) (*model.User, error) { return r.local.Disable(ctx, id) },
		r.sendStatus,
	)
}

func (r *UserReplicator) Enable(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.replicateUser(ctx, "enable",
		func(ctx context.Context) (*model.User, error) { return r.local.Enable(ctx, id) },
		r.sendStatus,
	)
}

// SyncPassword re-sends the stored hash of a user to every peer.
func (r *UserReplicator) SyncPassword(ctx context.Context, id uuid.UUID) error {
	_, err := r.replicateUser(ctx, "sync_password",
		func(ctx context.Context) (*model.User, error) { return r.local.GetByID(ctx, id) },
		r.sendPassword,
	)
	return err
}

func (r *UserReplicator) sendPassword(ctx context.Context, node *model.FleetNode, user *model.User) error {
	return r.transport.ChangeUserPassword(ctx, node, user.ID, user.PasswordHash)
}

func (r *UserReplicator) sendStatus(ctx context.Context, node *model.FleetNode, user *model.User) error {
	return r.transport.ChangeUserStatus(ctx, node, user.ID, user.IsEnable)
}

func (r *UserReplicator) replicateUser(
	ctx context.Context,
	op string,
	local func(context.Context) (*model.User, error),
	remote func(context.Context, *model.FleetNode, *model.User) error,
) (*model.User, error) {
	peers, err := r.fleet.peers(ctx)
	if err != nil {
		return nil, err
	}

	user, err := local(ctx)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		recordLocalOnly(r.fleet, op)
		return user, nil
	}

	results := fanOut(ctx, peers, func(ctx context.Context, node *model.FleetNode) (struct{}, error) {
		return struct{}{}, remote(ctx, node, user)
	})
	if err := joinAllOrNothing(r.fleet, op, results); err != nil {
		return nil, err
	}
	return user, nil
}
