package netutil

import (
	"context"
	"net/netip"
	"sort"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

// Inspector reports the addresses bound to this host's interfaces.
type Inspector interface {
	Interfaces(ctx context.Context) ([]model.NetworkInterface, error)
	LocalAddresses(ctx context.Context) (map[string]struct{}, error)
}

type interfaceLister func(ctx context.Context) (gnet.InterfaceStatList, error)

type HostInspector struct {
	list interfaceLister
}

func NewHostInspector() *HostInspector {
	return &HostInspector{list: gnet.InterfacesWithContext}
}

func (h *HostInspector) Interfaces(ctx context.Context) ([]model.NetworkInterface, error) {
	stats, err := h.list(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.NetworkInterface, 0, len(stats))
	for _, stat := range stats {
		item := model.NetworkInterface{
			Name:      stat.Name,
			Addresses: make([]string, 0, len(stat.Addrs)),
		}
		for _, addr := range stat.Addrs {
			if ip, ok := ParseHost(addr.Addr); ok {
				item.Addresses = append(item.Addresses, ip.String())
			}
		}
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (h *HostInspector) LocalAddresses(ctx context.Context) (map[string]struct{}, error) {
	interfaces, err := h.Interfaces(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, 16)
	for _, item := range interfaces {
		for _, addr := range item.Addresses {
			set[addr] = struct{}{}
		}
	}
	return set, nil
}

// ParseHost accepts either "1.2.3.4" or "1.2.3.4/24" and returns the address part.
func ParseHost(raw string) (netip.Addr, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return netip.Addr{}, false
	}
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return netip.Addr{}, false
		}
		return prefix.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// CIDRSize returns how many addresses a prefix spans, capped to fit an int.
func CIDRSize(cidr string) (int, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return 0, err
	}
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 30 {
		return 1 << 30, nil
	}
	return 1 << hostBits, nil
}
