package service

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/netutil"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

// InstanceResolver decides whether this process or a named peer owns a CIDR.
type InstanceResolver struct {
	servers   repository.ServerRepository
	inspector netutil.Inspector
	hostIP    string
}

func NewInstanceResolver(servers repository.ServerRepository, inspector netutil.Inspector, hostIP string) *InstanceResolver {
	return &InstanceResolver{
		servers:   servers,
		inspector: inspector,
		hostIP:    strings.TrimSpace(hostIP),
	}
}

func (r *InstanceResolver) HostIP() string {
	return r.hostIP
}

// Resolve returns OwnershipExternal together with the owning node, or
// OwnershipInternal with a nil node.
func (r *InstanceResolver) Resolve(ctx context.Context, cidr string) (model.Ownership, *model.FleetNode, error) {
	normalized, err := NormalizeCIDR(cidr)
	if err != nil {
		return "", nil, err
	}

	node, err := r.servers.GetByIPAddress(ctx, normalized)
	if err != nil {
		return "", nil, infraError("find server by ip range", err)
	}
	if node == nil || !node.IsEnable {
		return model.OwnershipInternal, nil, nil
	}
	if node.HostIPAddress == r.hostIP {
		return model.OwnershipInternal, nil, nil
	}

	if node.InternalHostIPAddress != nil && strings.TrimSpace(*node.InternalHostIPAddress) != "" {
		local, err := r.inspector.LocalAddresses(ctx)
		if err != nil {
			return "", nil, infraError("list local addresses", err)
		}
		if _, ok := local[strings.TrimSpace(*node.InternalHostIPAddress)]; ok {
			return model.OwnershipInternal, nil, nil
		}
	}

	return model.OwnershipExternal, node, nil
}

// NormalizeCIDR accepts "a.b.c.d/n" or a bare address and returns the
// masked prefix in canonical form.
func NormalizeCIDR(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("%w: empty cidr", ErrInvalidInput)
	}
	if !strings.Contains(value, "/") {
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not an ip address", ErrInvalidInput, raw)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
	}
	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a cidr", ErrInvalidInput, raw)
	}
	return prefix.Masked().String(), nil
}
