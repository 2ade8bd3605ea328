package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

const (
	defaultProxyPort = 3128
	defaultIPType    = "isp"
	// Ranges wider than this are rejected before any row is written.
	maxGenerateHostBits = 16
)

type GenerateIPRequest struct {
	IP        string `json:"ip"`
	Mask      int    `json:"mask"`
	Gateway   string `json:"gateway"`
	Interface string `json:"interface"`
	Port      int    `json:"port"`
	Type      string `json:"type"`
	Country   string `json:"country"`
}

func (r GenerateIPRequest) CIDR() string {
	return fmt.Sprintf("%s/%d", strings.TrimSpace(r.IP), r.Mask)
}

// IPTransport forwards address range operations to the node that owns them.
type IPTransport interface {
	GenerateIP(ctx context.Context, node *model.FleetNode, req GenerateIPRequest) (*model.Job, error)
	DeleteIP(ctx context.Context, node *model.FleetNode, cidr string) (*model.Job, error)
}

// JobRunner admits provisioning and regeneration jobs.
type JobRunner interface {
	Add(ctx context.Context, cidr string) (*model.Job, error)
	Reload(ctx context.Context) (*model.Job, error)
}

// IPService routes range operations to the owning node and, when this
// instance owns the range, records the addresses and admits a job.
type IPService struct {
	resolver  *InstanceResolver
	ips       repository.IPRepository
	jobs      JobRunner
	transport IPTransport
	logger    *zap.Logger
}

func NewIPService(
	resolver *InstanceResolver,
	ips repository.IPRepository,
	jobs JobRunner,
	transport IPTransport,
	logger *zap.Logger,
) *IPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPService{
		resolver:  resolver,
		ips:       ips,
		jobs:      jobs,
		transport: transport,
		logger:    logger,
	}
}

func (s *IPService) Generate(ctx context.Context, req GenerateIPRequest) (*model.Job, error) {
	ownership, node, err := s.resolver.Resolve(ctx, req.CIDR())
	if err != nil {
		return nil, err
	}
	if ownership == model.OwnershipExternal {
		job, err := s.transport.GenerateIP(ctx, node, req)
		if err != nil {
			return nil, &PeerError{Node: node, Op: "generate_ip", Err: err}
		}
		return job, nil
	}
	return s.GenerateLocal(ctx, req)
}

// GenerateLocal stores every address of the range as inactive and admits a
// provisioning job for it.
func (s *IPService) GenerateLocal(ctx context.Context, req GenerateIPRequest) (*model.Job, error) {
	addresses, err := expandRange(req)
	if err != nil {
		return nil, err
	}

	inserted, err := s.ips.AddBatch(ctx, addresses)
	if err != nil {
		return nil, infraError("insert ip addresses", err)
	}
	s.logger.Info("ip range recorded",
		zap.String("cidr", req.CIDR()),
		zap.Int("addresses", len(addresses)),
		zap.Int("inserted", inserted),
	)

	return s.jobs.Add(ctx, req.CIDR())
}

func (s *IPService) Delete(ctx context.Context, cidr string) (*model.Job, error) {
	ownership, node, err := s.resolver.Resolve(ctx, cidr)
	if err != nil {
		return nil, err
	}
	if ownership == model.OwnershipExternal {
		job, err := s.transport.DeleteIP(ctx, node, cidr)
		if err != nil {
			return nil, &PeerError{Node: node, Op: "delete_ip", Err: err}
		}
		return job, nil
	}
	return s.DeleteLocal(ctx, cidr)
}

// DeleteLocal removes the range from storage and regenerates the proxy
// configuration without it.
func (s *IPService) DeleteLocal(ctx context.Context, cidr string) (*model.Job, error) {
	normalized, err := NormalizeCIDR(cidr)
	if err != nil {
		return nil, err
	}

	removed, err := s.ips.DeleteByIPMask(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("ip range %s: %w", normalized, ErrNotFound)
		}
		return nil, infraError("delete ip addresses", err)
	}
	if removed == 0 {
		return nil, fmt.Errorf("ip range %s: %w", normalized, ErrNotFound)
	}

	return s.jobs.Reload(ctx)
}

func expandRange(req GenerateIPRequest) ([]*model.IPAddress, error) {
	normalized, err := NormalizeCIDR(req.CIDR())
	if err != nil {
		return nil, err
	}
	prefix := netip.MustParsePrefix(normalized)
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: only ipv4 ranges are supported", ErrInvalidInput)
	}
	if prefix.Addr().BitLen()-prefix.Bits() > maxGenerateHostBits {
		return nil, fmt.Errorf("%w: range %s is too wide", ErrInvalidInput, normalized)
	}

	gateway, err := netip.ParseAddr(strings.TrimSpace(req.Gateway))
	if err != nil {
		return nil, fmt.Errorf("%w: gateway %q", ErrInvalidInput, req.Gateway)
	}
	iface := strings.TrimSpace(req.Interface)
	if iface == "" {
		return nil, fmt.Errorf("%w: interface is required", ErrInvalidInput)
	}

	port := req.Port
	if port <= 0 {
		port = defaultProxyPort
	}
	ipType := strings.TrimSpace(req.Type)
	if ipType == "" {
		ipType = defaultIPType
	}

	now := time.Now().UTC()
	out := make([]*model.IPAddress, 0, 1<<(prefix.Addr().BitLen()-prefix.Bits()))
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		if addr == gateway {
			continue
		}
		out = append(out, &model.IPAddress{
			IP:         addr.String(),
			Mask:       req.Mask,
			Gateway:    gateway.String(),
			Interface:  iface,
			Port:       port,
			Type:       ipType,
			Country:    strings.ToUpper(strings.TrimSpace(req.Country)),
			InsertDate: now,
		})
		if !addr.Next().IsValid() {
			break
		}
	}
	return out, nil
}
