package provision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/execx"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

const (
	defaultIPCommand = "ip"
	defaultInterface = "eth0"
)

type Config struct {
	IPCommand        string
	DefaultInterface string
}

// IPProvisioner binds addresses to host interfaces with `ip address add`.
type IPProvisioner struct {
	runner execx.Runner
	cfg    Config
	logger *zap.Logger
}

func NewIPProvisioner(runner execx.Runner, cfg Config, logger *zap.Logger) *IPProvisioner {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if strings.TrimSpace(cfg.IPCommand) == "" {
		cfg.IPCommand = defaultIPCommand
	}
	if strings.TrimSpace(cfg.DefaultInterface) == "" {
		cfg.DefaultInterface = defaultInterface
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IPProvisioner{runner: runner, cfg: cfg, logger: logger}
}

// Add attempts every address independently and returns the ones that are
// bound afterwards. An address the kernel already has counts as bound.
func (p *IPProvisioner) Add(ctx context.Context, addresses []*model.IPAddress) ([]*model.IPAddress, error) {
	added := make([]*model.IPAddress, 0, len(addresses))
	for _, item := range addresses {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if item == nil {
			continue
		}

		iface := strings.TrimSpace(item.Interface)
		if iface == "" {
			iface = p.cfg.DefaultInterface
		}
		mask := item.Mask
		if mask <= 0 {
			mask = 32
		}

		err := p.runner.Run(ctx, p.cfg.IPCommand, "address", "add", fmt.Sprintf("%s/%d", item.IP, mask), "dev", iface)
		if err != nil && !isAlreadyAssigned(err) {
			p.logger.Warn("add ip address to interface failed",
				zap.String("ip", item.IP),
				zap.String("interface", iface),
				zap.Error(err),
			)
			continue
		}
		added = append(added, item)
	}
	return added, nil
}

func isAlreadyAssigned(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file exists") || strings.Contains(msg, "already assigned")
}
