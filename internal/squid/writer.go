package squid

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/execx"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/templates"
)

const (
	defaultAddressFile = "/etc/squid/conf.d/outgoing.conf"
	defaultBinary      = "squid"
)

type Config struct {
	AddressFile string
	Binary      string
	Reload      bool
}

type templateData struct {
	Addresses []*model.IPAddress
}

// ConfigWriter renders the outgoing address list squid binds to.
type ConfigWriter struct {
	runner execx.Runner
	cfg    Config
	tmpl   *template.Template
	logger *zap.Logger
}

func NewConfigWriter(runner execx.Runner, cfg Config, logger *zap.Logger) (*ConfigWriter, error) {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if strings.TrimSpace(cfg.AddressFile) == "" {
		cfg.AddressFile = defaultAddressFile
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.New("squid_outgoing").Parse(templates.SquidOutgoingTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse squid template: %w", err)
	}

	return &ConfigWriter{runner: runner, cfg: cfg, tmpl: tmpl, logger: logger}, nil
}

// Add replaces the address file with the given list, deduplicated by ip and
// port, and asks squid to reload it.
func (w *ConfigWriter) Add(ctx context.Context, addresses []*model.IPAddress) error {
	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, templateData{Addresses: Dedupe(addresses)}); err != nil {
		return fmt.Errorf("render squid address file: %w", err)
	}

	if err := writeFileAtomic(w.cfg.AddressFile, buf.Bytes()); err != nil {
		return err
	}

	if !w.cfg.Reload {
		return nil
	}
	if err := w.runner.Run(ctx, w.cfg.Binary, "-k", "reconfigure"); err != nil {
		return fmt.Errorf("reconfigure squid: %w", err)
	}

	w.logger.Info("squid address file regenerated",
		zap.String("path", w.cfg.AddressFile),
		zap.Int("addresses", len(addresses)),
	)
	return nil
}

func Dedupe(addresses []*model.IPAddress) []*model.IPAddress {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]*model.IPAddress, 0, len(addresses))
	for _, item := range addresses {
		if item == nil {
			continue
		}
		key := fmt.Sprintf("%s:%d", item.IP, item.Port)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create squid config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".outgoing-*.conf")
	if err != nil {
		return fmt.Errorf("create temp squid config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp squid config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp squid config: %w", err)
	}
	// #nosec G302 -- squid runs as a separate user and must read the file.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp squid config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace squid config: %w", err)
	}
	return nil
}
