package service

import (
	"context"
	"errors"
	"testing"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

type fakeServerTransport struct {
	peers  *peerErrors
	byHost map[string][]model.NetworkInterface
}

func (f *fakeServerTransport) GetAllInterfaceOfServer(_ context.Context, node *model.FleetNode) ([]model.NetworkInterface, error) {
	if err := f.peers.hit(node); err != nil {
		return nil, err
	}
	return f.byHost[node.HostIPAddress], nil
}

func TestGetAllInterface_OwnInstanceFirstThenPeersInOrder(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode("10.0.0.2"), peerNode(selfHost), peerNode("10.0.0.3")}
	servers := &fakeServerRepo{nodes: nodes}
	inspector := &fakeInspector{interfaces: []model.NetworkInterface{{Name: "eth0", Addresses: []string{selfHost}}}}
	transport := &fakeServerTransport{
		peers: &peerErrors{},
		byHost: map[string][]model.NetworkInterface{
			"10.0.0.2": {{Name: "eth0", Addresses: []string{"10.0.0.2"}}},
			"10.0.0.3": {{Name: "eth0", Addresses: []string{"10.0.0.3"}}, {Name: "eth1"}},
		},
	}
	resolver := NewInstanceResolver(servers, inspector, selfHost)
	replicator := NewServerReplicator(servers, resolver, inspector, transport, nil)

	got, err := replicator.GetAllInterface(context.Background())
	if err != nil {
		t.Fatalf("GetAllInterface returned error: %v", err)
	}

	wantHosts := []string{selfHost, "10.0.0.2", "10.0.0.3", "10.0.0.3"}
	if len(got) != len(wantHosts) {
		t.Fatalf("expected %d interfaces, got %+v", len(wantHosts), got)
	}
	for i, host := range wantHosts {
		if got[i].Host != host {
			t.Fatalf("interface %d: expected host %s, got %s", i, host, got[i].Host)
		}
	}
}

func TestGetAllInterface_PeerFailureFails(t *testing.T) {
	t.Parallel()

	servers := &fakeServerRepo{nodes: []*model.FleetNode{peerNode("10.0.0.2")}}
	inspector := &fakeInspector{}
	transport := &fakeServerTransport{peers: &peerErrors{errs: map[string]error{"10.0.0.2": errBoom}}}
	replicator := NewServerReplicator(servers, NewInstanceResolver(servers, inspector, selfHost), inspector, transport, nil)

	_, err := replicator.GetAllInterface(context.Background())
	var peerErr *PeerError
	if !errors.As(err, &peerErr) {
		t.Fatalf("expected peer error, got %v", err)
	}
}

func TestServerAdd_ValidatesAndNormalizesRanges(t *testing.T) {
	t.Parallel()

	servers := &fakeServerRepo{}
	inspector := &fakeInspector{}
	replicator := NewServerReplicator(servers, NewInstanceResolver(servers, inspector, selfHost), inspector, &fakeServerTransport{}, nil)

	node, err := replicator.Add(context.Background(), &model.FleetNode{
		Name:          "edge-1",
		HostIPAddress: "123.40.52.6",
		HostAPIPort:   3000,
		IsEnable:      true,
		IPRange:       []string{"192.168.1.3/29"},
	})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if node.IPRange[0] != "192.168.1.0/29" {
		t.Fatalf("expected normalized range, got %v", node.IPRange)
	}

	_, err = replicator.Add(context.Background(), &model.FleetNode{Name: "bad", HostIPAddress: "nope", HostAPIPort: 1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
