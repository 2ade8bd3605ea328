package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

const selfHost = "10.10.10.1"

func newPackageReplicatorForTest(nodes []*model.FleetNode, errs map[string]error) (*PackageReplicator, *fakePackageOperator, *fakePackageTransport) {
	local := &fakePackageOperator{snapshots: map[uuid.UUID]*model.Package{}}
	transport := &fakePackageTransport{
		peers:  &peerErrors{errs: errs},
		byUser: map[string][]*model.Package{},
	}
	replicator := NewPackageReplicator(&fakeServerRepo{nodes: nodes}, local, transport, selfHost, nil)
	return replicator, local, transport
}

func TestPackageAdd_OnePeerFailingIsStillSuccess(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode(selfHost), peerNode("10.0.0.2"), peerNode("10.0.0.3")}
	replicator, _, transport := newPackageReplicatorForTest(nodes, map[string]error{"10.0.0.2": errBoom})

	pkg, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if pkg == nil || pkg.ID == uuid.Nil {
		t.Fatalf("expected local package result, got %+v", pkg)
	}
	if transport.peers.calls() != 2 {
		t.Fatalf("expected both peers to be called, got %v", transport.peers.called)
	}
	if len(transport.received) != 1 || transport.received[0].ID != pkg.ID {
		t.Fatalf("expected peer to receive same package id, got %+v", transport.received)
	}
}

func TestPackageAdd_AllPeersFailingIsReplicationFailure(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode("10.0.0.2"), peerNode("10.0.0.3")}
	replicator, local, transport := newPackageReplicatorForTest(nodes, map[string]error{
		"10.0.0.2": errBoom,
		"10.0.0.3": errBoom,
	})

	_, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"})
	if !errors.Is(err, ErrReplicationFailed) {
		t.Fatalf("expected ErrReplicationFailed, got %v", err)
	}
	if local.added != 1 {
		t.Fatalf("expected local add to run once, got %d", local.added)
	}
	if transport.peers.calls() != 2 {
		t.Fatalf("expected both peers to be called, got %v", transport.peers.called)
	}
}

func TestPackageAdd_NoPeersIsLocalResult(t *testing.T) {
	t.Parallel()

	disabled := peerNode("10.0.0.9")
	disabled.IsEnable = false
	replicator, local, transport := newPackageReplicatorForTest([]*model.FleetNode{peerNode(selfHost), disabled}, nil)

	pkg, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if local.added != 1 || pkg == nil {
		t.Fatalf("expected purely local add, got added=%d pkg=%+v", local.added, pkg)
	}
	if transport.peers.calls() != 0 {
		t.Fatalf("expected no peer calls, got %v", transport.peers.called)
	}
}

func TestPackageAdd_FleetLookupFailureAbortsBeforeLocalWrite(t *testing.T) {
	t.Parallel()

	local := &fakePackageOperator{}
	transport := &fakePackageTransport{peers: &peerErrors{}}
	replicator := NewPackageReplicator(&fakeServerRepo{getAllErr: errBoom}, local, transport, selfHost, nil)

	_, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected registry error, got %v", err)
	}
	if local.added != 0 {
		t.Fatalf("expected no local write, got %d", local.added)
	}
}

func TestPackageAdd_LocalFailureSkipsPeers(t *testing.T) {
	t.Parallel()

	replicator, local, transport := newPackageReplicatorForTest([]*model.FleetNode{peerNode("10.0.0.2")}, nil)
	local.addErr = ErrCapacityExhausted

	_, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"})
	if !errors.Is(err, ErrCapacityExhausted) {
		t.Fatalf("expected local error, got %v", err)
	}
	if transport.peers.calls() != 0 {
		t.Fatalf("expected no peer calls, got %v", transport.peers.called)
	}
}

func TestPackageSync_SendsLocalSnapshot(t *testing.T) {
	t.Parallel()

	replicator, local, transport := newPackageReplicatorForTest([]*model.FleetNode{peerNode("10.0.0.2")}, nil)
	id := uuid.New()
	local.snapshots[id] = &model.Package{ID: id, Status: model.PackageStatusExpire}

	if err := replicator.SyncPackageByID(context.Background(), id); err != nil {
		t.Fatalf("SyncPackageByID returned error: %v", err)
	}
	if len(transport.received) != 1 || transport.received[0].Status != model.PackageStatusExpire {
		t.Fatalf("expected expired snapshot on peer, got %+v", transport.received)
	}
}

func TestPackageGetAllByUsername_MergesDuplicates(t *testing.T) {
	t.Parallel()

	shared := uuid.New()
	only := uuid.New()
	replicator, local, transport := newPackageReplicatorForTest([]*model.FleetNode{peerNode("10.0.0.2")}, nil)
	local.byUser = []*model.Package{{
		ID:      shared,
		CountIP: 2,
		IPList:  []model.PackageIP{{IP: "10.0.0.1", Port: 3128}, {IP: "10.0.0.2", Port: 3128}},
	}}
	transport.byUser["10.0.0.2"] = []*model.Package{
		{ID: shared, CountIP: 2, IPList: []model.PackageIP{{IP: "10.0.0.2", Port: 3128}, {IP: "10.1.0.1", Port: 3128}}},
		{ID: only, CountIP: 1, IPList: []model.PackageIP{{IP: "10.1.0.9", Port: 3128}}},
	}

	got, err := replicator.GetAllByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAllByUsername returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(got))
	}
	if got[0].ID != shared || got[0].CountIP != 3 || len(got[0].IPList) != 3 {
		t.Fatalf("expected merged package with 3 ips, got %+v", got[0])
	}
	if got[1].ID != only || got[1].CountIP != 1 {
		t.Fatalf("expected peer-only package untouched, got %+v", got[1])
	}
	if len(local.byUser[0].IPList) != 2 {
		t.Fatalf("expected local result not to be mutated, got %+v", local.byUser[0].IPList)
	}
}

func TestPackageGetAllByUsername_AnyPeerFailureFails(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode("10.0.0.2"), peerNode("10.0.0.3")}
	replicator, _, transport := newPackageReplicatorForTest(nodes, map[string]error{"10.0.0.3": errBoom})

	_, err := replicator.GetAllByUsername(context.Background(), "alice")
	var peerErr *PeerError
	if !errors.As(err, &peerErr) || peerErr.Node.HostIPAddress != "10.0.0.3" {
		t.Fatalf("expected peer error from 10.0.0.3, got %v", err)
	}
	if transport.peers.calls() != 2 {
		t.Fatalf("expected every peer to be contacted, got %v", transport.peers.called)
	}
}

func TestPackageCancel_RefetchesFleetEveryCall(t *testing.T) {
	t.Parallel()

	servers := &fakeServerRepo{nodes: []*model.FleetNode{peerNode("10.0.0.2")}}
	transport := &fakePackageTransport{peers: &peerErrors{}}
	replicator := NewPackageReplicator(servers, &fakePackageOperator{}, transport, selfHost, nil)

	if err := replicator.Cancel(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	servers.nodes = append(servers.nodes, peerNode("10.0.0.3"))
	if err := replicator.Cancel(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if servers.getAllHits != 2 {
		t.Fatalf("expected fleet lookup per call, got %d", servers.getAllHits)
	}
	if transport.peers.calls() != 3 {
		t.Fatalf("expected 1 then 2 peer calls, got %v", transport.peers.called)
	}
}

func TestPackageAdd_PeersAreCalledConcurrently(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode("10.0.0.2"), peerNode("10.0.0.3"), peerNode("10.0.0.4")}
	replicator, _, transport := newPackageReplicatorForTest(nodes, nil)
	transport.peers.gate = newBarrier(len(nodes), 2*time.Second)

	if _, err := replicator.Add(context.Background(), &model.Package{UserID: uuid.New(), CountIP: 1, Type: "isp"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if transport.peers.gate.timedOut.Load() {
		t.Fatal("peer calls did not overlap")
	}
	if transport.peers.calls() != len(nodes) {
		t.Fatalf("expected every peer to be called, got %v", transport.peers.called)
	}
}

func TestPackagePropagateCancel_SendsCancelledSnapshot(t *testing.T) {
	t.Parallel()

	nodes := []*model.FleetNode{peerNode("10.0.0.2"), peerNode("10.0.0.3")}
	replicator, local, transport := newPackageReplicatorForTest(nodes, map[string]error{"10.0.0.3": errBoom})

	cancelled := &model.Package{ID: uuid.New(), Status: model.PackageStatusCancel}
	enabled := &model.Package{ID: uuid.New(), Status: model.PackageStatusEnable}
	local.snapshots[cancelled.ID] = cancelled
	local.snapshots[enabled.ID] = enabled

	if err := replicator.PropagateCancel(context.Background(), cancelled.ID); err != nil {
		t.Fatalf("PropagateCancel returned error: %v", err)
	}
	if len(transport.received) != 1 || transport.received[0].Status != model.PackageStatusCancel {
		t.Fatalf("expected cancelled snapshot on the healthy peer, got %+v", transport.received)
	}
	if len(local.cancelled) != 0 {
		t.Fatalf("expected no local cancel, got %v", local.cancelled)
	}

	if err := replicator.PropagateCancel(context.Background(), enabled.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for a package that is not cancelled, got %v", err)
	}
}
