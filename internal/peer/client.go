package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
	jwtutil "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/pkg/jwt"
)

var (
	ErrUnauthorized = errors.New("peer: unauthorized")
	ErrNotFound     = errors.New("peer: not found")
	ErrConflict     = errors.New("peer: conflict")
	ErrRejected     = errors.New("peer: request rejected")
	ErrServerError  = errors.New("peer: server error")
	ErrBadResponse  = errors.New("peer: malformed response")
)

const tokenTTL = time.Minute

type Config struct {
	// HostIP is this instance's address, sent as the token issuer.
	HostIP string
	Secret []byte
	// Timeout bounds one HTTP call. Zero leaves the call unbounded.
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Scheme      string
}

// Client calls the cluster API of other fleet members. Only reads are
// retried.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ service.PackageTransport = (*Client)(nil)
	_ service.UserTransport    = (*Client)(nil)
	_ service.ServerTransport  = (*Client)(nil)
	_ service.IPTransport      = (*Client)(nil)
)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if strings.TrimSpace(cfg.Scheme) == "" {
		cfg.Scheme = "http"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *Client) AddPackage(ctx context.Context, node *model.FleetNode, pkg *model.Package) (*model.Package, error) {
	var out model.Package
	if err := c.do(ctx, node, http.MethodPost, PathPackages, pkg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelPackage(ctx context.Context, node *model.FleetNode, id uuid.UUID) error {
	return c.do(ctx, node, http.MethodPost, PathPackages+"/"+id.String()+"/cancel", nil, nil)
}

func (c *Client) RemovePackage(ctx context.Context, node *model.FleetNode, id uuid.UUID) error {
	return c.do(ctx, node, http.MethodDelete, PathPackages+"/"+id.String(), nil, nil)
}

func (c *Client) DisableExpirePackage(ctx context.Context, node *model.FleetNode) error {
	return c.do(ctx, node, http.MethodPost, PathPackagesExpire, nil, nil)
}

func (c *Client) SyncPackage(ctx context.Context, node *model.FleetNode, snapshot *model.Package) error {
	if snapshot == nil {
		return errors.New("peer: empty package snapshot")
	}
	return c.do(ctx, node, http.MethodPut, PathPackages+"/"+snapshot.ID.String()+"/sync", snapshot, nil)
}

func (c *Client) GetAllPackageByUsername(ctx context.Context, node *model.FleetNode, username string) ([]*model.Package, error) {
	var out []*model.Package
	if err := c.do(ctx, node, http.MethodGet, PathPackagesByUser+url.PathEscape(username), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddUser(ctx context.Context, node *model.FleetNode, user *model.User) error {
	return c.do(ctx, node, http.MethodPost, PathUsers, NewUserPayload(user), nil)
}

func (c *Client) ChangeUserPassword(ctx context.Context, node *model.FleetNode, id uuid.UUID, passwordHash string) error {
	return c.do(ctx, node, http.MethodPut, PathUsers+"/"+id.String()+"/password", PasswordPayload{PasswordHash: passwordHash}, nil)
}

func (c *Client) ChangeUserStatus(ctx context.Context, node *model.FleetNode, id uuid.UUID, isEnable bool) error {
	return c.do(ctx, node, http.MethodPut, PathUsers+"/"+id.String()+"/status", StatusPayload{IsEnable: isEnable}, nil)
}

func (c *Client) GetAllInterfaceOfServer(ctx context.Context, node *model.FleetNode) ([]model.NetworkInterface, error) {
	var out []model.NetworkInterface
	if err := c.do(ctx, node, http.MethodGet, PathServerInterfaces, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GenerateIP(ctx context.Context, node *model.FleetNode, req service.GenerateIPRequest) (*model.Job, error) {
	var out model.Job
	if err := c.do(ctx, node, http.MethodPost, PathIPs, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteIP(ctx context.Context, node *model.FleetNode, cidr string) (*model.Job, error) {
	var out model.Job
	path := PathIPs + "?cidr=" + url.QueryEscape(cidr)
	if err := c.do(ctx, node, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, node *model.FleetNode, method, path string, body any, out any) error {
	if node == nil {
		return errors.New("peer: node is nil")
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.cfg.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.doOnce(ctx, node, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts {
			break
		}
		c.logger.Debug("retrying peer call",
			zap.String("node_host", node.HostIPAddress),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, node *model.FleetNode, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(node)+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := jwtutil.GeneratePeerToken(jwtutil.NewPeerClaims(c.cfg.HostIP, tokenTTL), c.cfg.Secret)
	if err != nil {
		return fmt.Errorf("peer: sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("peer: read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(responseBody, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, env.Message)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, env.Message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%d %s", ErrServerError, resp.StatusCode, env.Message)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status=%d %s", ErrRejected, resp.StatusCode, env.Message)
	}

	// Only a successful reply has to carry a well-formed envelope.
	if decodeErr != nil && len(bytes.TrimSpace(responseBody)) > 0 {
		return fmt.Errorf("%w: status=%d: %v", ErrBadResponse, resp.StatusCode, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func (c *Client) baseURL(node *model.FleetNode) string {
	host := strings.TrimSpace(node.HostIPAddress)
	return c.cfg.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(node.HostAPIPort)) + RoutePrefix
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerError) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
