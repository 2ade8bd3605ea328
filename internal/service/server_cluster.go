package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/netutil"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

type ServerTransport interface {
	GetAllInterfaceOfServer(ctx context.Context, node *model.FleetNode) ([]model.NetworkInterface, error)
}

// ServerReplicator owns the fleet registry and the fleet-wide interface
// listing.
type ServerReplicator struct {
	fleet     fleet
	servers   repository.ServerRepository
	resolver  *InstanceResolver
	inspector netutil.Inspector
	transport ServerTransport
}

func NewServerReplicator(
	servers repository.ServerRepository,
	resolver *InstanceResolver,
	inspector netutil.Inspector,
	transport ServerTransport,
	logger *zap.Logger,
) *ServerReplicator {
	return &ServerReplicator{
		fleet:     newFleet(servers, resolver.HostIP(), domainServer, logger),
		servers:   servers,
		resolver:  resolver,
		inspector: inspector,
		transport: transport,
	}
}

// GetAllInterface lists this instance's interfaces followed by each peer's,
// in registry order. Any peer failure fails the call.
func (r *ServerReplicator) GetAllInterface(ctx context.Context) ([]model.NetworkInterface, error) {
	peers, err := r.fleet.peers(ctx)
	if err != nil {
		return nil, err
	}

	local, err := r.LocalInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		recordLocalOnly(r.fleet, "get_all_interface")
		return local, nil
	}

	results := fanOut(ctx, peers, func(ctx context.Context, node *model.FleetNode) ([]model.NetworkInterface, error) {
		items, err := r.transport.GetAllInterfaceOfServer(ctx, node)
		for i := range items {
			if items[i].Host == "" {
				items[i].Host = node.HostIPAddress
			}
		}
		return items, err
	})
	remote, err := joinFailFast(r.fleet, "get_all_interface", results)
	if err != nil {
		return nil, err
	}

	out := local
	for _, items := range remote {
		out = append(out, items...)
	}
	return out, nil
}

func (r *ServerReplicator) LocalInterfaces(ctx context.Context) ([]model.NetworkInterface, error) {
	items, err := r.inspector.Interfaces(ctx)
	if err != nil {
		return nil, infraError("list local interfaces", err)
	}
	for i := range items {
		items[i].Host = r.resolver.HostIP()
	}
	return items, nil
}

func (r *ServerReplicator) FindInstanceExecute(ctx context.Context, cidr string) (model.Ownership, *model.FleetNode, error) {
	return r.resolver.Resolve(ctx, cidr)
}

func (r *ServerReplicator) GetAll(ctx context.Context) ([]*model.FleetNode, error) {
	nodes, err := r.servers.GetAll(ctx)
	if err != nil {
		return nil, infraError("list fleet nodes", err)
	}
	return nodes, nil
}

func (r *ServerReplicator) GetByID(ctx context.Context, id uuid.UUID) (*model.FleetNode, error) {
	node, err := r.servers.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get fleet node", err)
	}
	return node, nil
}

func (r *ServerReplicator) Add(ctx context.Context, node *model.FleetNode) (*model.FleetNode, error) {
	if err := validateFleetNode(node); err != nil {
		return nil, err
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	node.InsertDate = time.Now().UTC()

	if err := r.servers.Add(ctx, node); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("host %s: %w", node.HostIPAddress, ErrConflict)
		}
		return nil, infraError("insert fleet node", err)
	}
	return node, nil
}

func (r *ServerReplicator) Update(ctx context.Context, node *model.FleetNode) (*model.FleetNode, error) {
	if node == nil || node.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidInput)
	}
	if err := validateFleetNode(node); err != nil {
		return nil, err
	}
	if err := r.servers.Update(ctx, node); err != nil {
		return nil, storeError("update fleet node", err)
	}
	return node, nil
}

func (r *ServerReplicator) Delete(ctx context.Context, id uuid.UUID) error {
	return storeError("delete fleet node", r.servers.Delete(ctx, id))
}

func validateFleetNode(node *model.FleetNode) error {
	if node == nil {
		return fmt.Errorf("%w: node is required", ErrInvalidInput)
	}
	node.Name = strings.TrimSpace(node.Name)
	if node.Name == "" {
		return fmt.Errorf("%w: node name is required", ErrInvalidInput)
	}
	if _, err := netip.ParseAddr(strings.TrimSpace(node.HostIPAddress)); err != nil {
		return fmt.Errorf("%w: host ip address %q", ErrInvalidInput, node.HostIPAddress)
	}
	if node.InternalHostIPAddress != nil {
		if _, err := netip.ParseAddr(strings.TrimSpace(*node.InternalHostIPAddress)); err != nil {
			return fmt.Errorf("%w: internal host ip address %q", ErrInvalidInput, *node.InternalHostIPAddress)
		}
	}
	if node.HostAPIPort <= 0 || node.HostAPIPort > 65535 {
		return fmt.Errorf("%w: host api port %d", ErrInvalidInput, node.HostAPIPort)
	}
	for i, item := range node.IPRange {
		normalized, err := NormalizeCIDR(item)
		if err != nil {
			return err
		}
		node.IPRange[i] = normalized
	}
	return nil
}
