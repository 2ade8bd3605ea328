package service

import (
	"errors"
	"fmt"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("entity is in an incompatible state")
	ErrCapacityExhausted = errors.New("no unique ip address available")
	ErrReplicationFailed = errors.New("replication failed on every peer")
	ErrInvalidInput      = errors.New("invalid input")
)

// PeerError is the first failing peer of an all-or-nothing fan-out, or the
// first failing peer of a fail-fast read.
type PeerError struct {
	Node *model.FleetNode
	Op   string
	Err  error
}

func (e *PeerError) Error() string {
	host := "unknown"
	if e.Node != nil {
		host = e.Node.HostIPAddress
	}
	return fmt.Sprintf("peer %s %s: %v", host, e.Op, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// InfrastructureError wraps a storage, transport or OS command failure.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func infraError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Op: op, Err: err}
}

// storeError maps repository.ErrNotFound to ErrNotFound and everything else
// to an InfrastructureError.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return infraError(op, err)
}
