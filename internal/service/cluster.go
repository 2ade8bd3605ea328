package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/metrics"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

const (
	domainPackage = "package"
	domainUser    = "user"
	domainServer  = "server"

	resultSuccess = "success"
	resultPartial = "partial"
	resultFailed  = "failed"
	resultLocal   = "local_only"
)

type peerResult[T any] struct {
	node  *model.FleetNode
	value T
	err   error
}

// fleet holds what every replicator needs to find its peers.
type fleet struct {
	servers repository.ServerRepository
	hostIP  string
	domain  string
	logger  *zap.Logger
}

func newFleet(servers repository.ServerRepository, hostIP, domain string, logger *zap.Logger) fleet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return fleet{
		servers: servers,
		hostIP:  strings.TrimSpace(hostIP),
		domain:  domain,
		logger:  logger.With(zap.String("domain", domain)),
	}
}

// peers re-reads the fleet on every call and returns the enabled members
// other than this instance, in registry order.
func (f fleet) peers(ctx context.Context) ([]*model.FleetNode, error) {
	nodes, err := f.servers.GetAll(ctx)
	if err != nil {
		return nil, infraError("list fleet nodes", err)
	}

	out := make([]*model.FleetNode, 0, len(nodes))
	for _, node := range nodes {
		if node == nil || !node.IsEnable {
			continue
		}
		if node.HostIPAddress == f.hostIP {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

func (f fleet) logPeerError(op string, node *model.FleetNode, err error) {
	metrics.IncPeerError(f.domain, op)
	f.logger.Warn("peer call failed",
		zap.String("op", op),
		zap.String("node_id", node.ID.String()),
		zap.String("node_host", node.HostIPAddress),
		zap.Error(err),
	)
}

// fanOut calls every node concurrently and waits for all of them. Results
// keep the order of nodes.
func fanOut[T any](ctx context.Context, nodes []*model.FleetNode, call func(context.Context, *model.FleetNode) (T, error)) []peerResult[T] {
	results := make([]peerResult[T], len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node *model.FleetNode) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					results[i] = peerResult[T]{node: node, err: fmt.Errorf("peer call panic: %v", recovered)}
				}
			}()

			value, err := call(ctx, node)
			results[i] = peerResult[T]{node: node, value: value, err: err}
		}(i, node)
	}
	wg.Wait()

	return results
}

// joinAllOrNothing logs every peer failure and returns the first one in node
// order.
func joinAllOrNothing[T any](f fleet, op string, results []peerResult[T]) error {
	var first error
	for _, result := range results {
		if result.err == nil {
			continue
		}
		f.logPeerError(op, result.node, result.err)
		if first == nil {
			first = &PeerError{Node: result.node, Op: op, Err: result.err}
		}
	}

	if first != nil {
		metrics.RecordReplication(f.domain, op, resultFailed)
		return first
	}
	metrics.RecordReplication(f.domain, op, resultSuccess)
	return nil
}

// joinBestEffort logs every peer failure and only fails when no peer
// succeeded.
func joinBestEffort[T any](f fleet, op string, results []peerResult[T]) error {
	failed := 0
	for _, result := range results {
		if result.err == nil {
			continue
		}
		failed++
		f.logPeerError(op, result.node, result.err)
	}

	switch {
	case len(results) > 0 && failed == len(results):
		metrics.RecordReplication(f.domain, op, resultFailed)
		return fmt.Errorf("%s on %d peers: %w", op, failed, ErrReplicationFailed)
	case failed > 0:
		metrics.RecordReplication(f.domain, op, resultPartial)
	default:
		metrics.RecordReplication(f.domain, op, resultSuccess)
	}
	return nil
}

// joinFailFast returns the peer values in node order, or the first peer
// failure in node order.
func joinFailFast[T any](f fleet, op string, results []peerResult[T]) ([]T, error) {
	values := make([]T, 0, len(results))
	var first error
	for _, result := range results {
		if result.err != nil {
			f.logPeerError(op, result.node, result.err)
			if first == nil {
				first = &PeerError{Node: result.node, Op: op, Err: result.err}
			}
			continue
		}
		values = append(values, result.value)
	}

	if first != nil {
		metrics.RecordReplication(f.domain, op, resultFailed)
		return nil, first
	}
	metrics.RecordReplication(f.domain, op, resultSuccess)
	return values, nil
}

func recordLocalOnly(f fleet, op string) {
	metrics.RecordReplication(f.domain, op, resultLocal)
}
