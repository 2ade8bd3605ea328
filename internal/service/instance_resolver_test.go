package service

import (
	"context"
	"errors"
	"testing"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

func TestResolve_UncoveredRangeIsInternal(t *testing.T) {
	t.Parallel()

	resolver := NewInstanceResolver(&fakeServerRepo{}, &fakeInspector{}, "10.10.10.1")

	ownership, node, err := resolver.Resolve(context.Background(), "172.16.0.0/24")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ownership != model.OwnershipInternal || node != nil {
		t.Fatalf("expected internal without node, got %s %+v", ownership, node)
	}
}

func TestResolve_OwnHostIsInternal(t *testing.T) {
	t.Parallel()

	self := peerNode("10.10.10.1")
	self.IPRange = []string{"192.168.1.0/29"}
	resolver := NewInstanceResolver(&fakeServerRepo{byRange: self}, &fakeInspector{}, "10.10.10.1")

	ownership, node, err := resolver.Resolve(context.Background(), "192.168.1.0/29")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ownership != model.OwnershipInternal || node != nil {
		t.Fatalf("expected internal without node, got %s %+v", ownership, node)
	}
}

func TestResolve_OtherHostIsExternal(t *testing.T) {
	t.Parallel()

	owner := peerNode("123.40.52.6")
	owner.IPRange = []string{"192.168.1.0/29"}
	resolver := NewInstanceResolver(
		&fakeServerRepo{byRange: owner},
		&fakeInspector{local: localSet("10.10.10.1")},
		"10.10.10.1",
	)

	ownership, node, err := resolver.Resolve(context.Background(), "192.168.1.0/29")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ownership != model.OwnershipExternal {
		t.Fatalf("expected external ownership, got %s", ownership)
	}
	if node == nil || node.ID != owner.ID {
		t.Fatalf("expected owner node %s, got %+v", owner.ID, node)
	}
}

func TestResolve_InternalHostAddressOnLocalInterfaceIsInternal(t *testing.T) {
	t.Parallel()

	internal := "172.31.5.4"
	owner := peerNode("123.40.52.6")
	owner.InternalHostIPAddress = &internal
	resolver := NewInstanceResolver(
		&fakeServerRepo{byRange: owner},
		&fakeInspector{local: localSet("127.0.0.1", internal)},
		"10.10.10.1",
	)

	ownership, node, err := resolver.Resolve(context.Background(), "192.168.1.0/29")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ownership != model.OwnershipInternal || node != nil {
		t.Fatalf("expected internal without node, got %s %+v", ownership, node)
	}
}

func TestResolve_RegistryFailureIsInfrastructureError(t *testing.T) {
	t.Parallel()

	resolver := NewInstanceResolver(&fakeServerRepo{byRangeErr: errBoom}, &fakeInspector{}, "10.10.10.1")

	_, node, err := resolver.Resolve(context.Background(), "192.168.1.0/29")
	var infraErr *InfrastructureError
	if !errors.As(err, &infraErr) || !errors.Is(err, errBoom) {
		t.Fatalf("expected infrastructure error wrapping cause, got %v", err)
	}
	if node != nil {
		t.Fatalf("expected no node on failure, got %+v", node)
	}
}

func TestNormalizeCIDR(t *testing.T) {
	t.Parallel()

	got, err := NormalizeCIDR(" 192.168.1.5/29 ")
	if err != nil || got != "192.168.1.0/29" {
		t.Fatalf("expected masked prefix, got %q err=%v", got, err)
	}
	got, err = NormalizeCIDR("10.0.0.7")
	if err != nil || got != "10.0.0.7/32" {
		t.Fatalf("expected host prefix, got %q err=%v", got, err)
	}
	if _, err := NormalizeCIDR("not-an-ip"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
