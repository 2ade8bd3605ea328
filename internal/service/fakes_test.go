package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

var errBoom = errors.New("boom")

type fakeServerRepo struct {
	nodes      []*model.FleetNode
	byRange    *model.FleetNode
	getAllErr  error
	byRangeErr error
	getAllHits int
}

func (f *fakeServerRepo) GetAll(context.Context) ([]*model.FleetNode, error) {
	f.getAllHits++
	return f.nodes, f.getAllErr
}

func (f *fakeServerRepo) GetByID(_ context.Context, id uuid.UUID) (*model.FleetNode, error) {
	for _, node := range f.nodes {
		if node.ID == id {
			return node, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeServerRepo) GetByIPAddress(context.Context, string) (*model.FleetNode, error) {
	return f.byRange, f.byRangeErr
}

func (f *fakeServerRepo) Add(_ context.Context, node *model.FleetNode) error {
	f.nodes = append(f.nodes, node)
	return nil
}

func (f *fakeServerRepo) Update(context.Context, *model.FleetNode) error { return nil }

func (f *fakeServerRepo) Delete(context.Context, uuid.UUID) error { return nil }

type fakeInspector struct {
	interfaces []model.NetworkInterface
	local      map[string]struct{}
	err        error
}

func (f *fakeInspector) Interfaces(context.Context) ([]model.NetworkInterface, error) {
	out := make([]model.NetworkInterface, len(f.interfaces))
	copy(out, f.interfaces)
	return out, f.err
}

func (f *fakeInspector) LocalAddresses(context.Context) (map[string]struct{}, error) {
	return f.local, f.err
}

func localSet(ips ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		out[ip] = struct{}{}
	}
	return out
}

func peerNode(host string) *model.FleetNode {
	return &model.FleetNode{
		ID:            uuid.New(),
		Name:          "node-" + host,
		HostIPAddress: host,
		HostAPIPort:   3000,
		IsEnable:      true,
	}
}

// peerErrors maps a peer host to the error its calls return and records
// which hosts were called.
type peerErrors struct {
	mu     sync.Mutex
	errs   map[string]error
	called []string
	// delay and gate are set before the replicator runs.
	delay map[string]time.Duration
	gate  *barrier
}

func (p *peerErrors) hit(node *model.FleetNode) error {
	if p.gate != nil {
		p.gate.arrive()
	}
	if d := p.delay[node.HostIPAddress]; d > 0 {
		time.Sleep(d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.called = append(p.called, node.HostIPAddress)
	return p.errs[node.HostIPAddress]
}

func (p *peerErrors) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.called)
}

// barrier holds every caller until n callers have arrived. A caller that
// waits longer than the timeout gives up and marks the barrier.
type barrier struct {
	arrived  sync.WaitGroup
	all      chan struct{}
	timeout  time.Duration
	timedOut atomic.Bool
}

func newBarrier(n int, timeout time.Duration) *barrier {
	b := &barrier{all: make(chan struct{}), timeout: timeout}
	b.arrived.Add(n)
	go func() {
		b.arrived.Wait()
		close(b.all)
	}()
	return b
}

func (b *barrier) arrive() {
	b.arrived.Done()
	select {
	case <-b.all:
	case <-time.After(b.timeout):
		b.timedOut.Store(true)
	}
}

type fakePackageOperator struct {
	addErr    error
	snapshots map[uuid.UUID]*model.Package
	byUser    []*model.Package
	added     int
	cancelled []uuid.UUID
}

func (f *fakePackageOperator) Add(_ context.Context, req *model.Package) (*model.Package, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added++
	pkg := *req
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	pkg.Status = model.PackageStatusEnable
	pkg.IPList = []model.PackageIP{{IP: "10.0.0.1", Port: 3128}}
	return &pkg, nil
}

func (f *fakePackageOperator) Cancel(_ context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePackageOperator) Remove(context.Context, uuid.UUID) error { return nil }

func (f *fakePackageOperator) DisableExpirePackage(context.Context) ([]*model.Package, error) {
	return nil, nil
}

func (f *fakePackageOperator) SyncPackageByID(_ context.Context, id uuid.UUID) (*model.Package, error) {
	if pkg, ok := f.snapshots[id]; ok {
		return pkg, nil
	}
	return nil, ErrNotFound
}

func (f *fakePackageOperator) GetAllByUsername(context.Context, string) ([]*model.Package, error) {
	return f.byUser, nil
}

type fakePackageTransport struct {
	peers    *peerErrors
	byUser   map[string][]*model.Package
	received []*model.Package
	mu       sync.Mutex
}

func (f *fakePackageTransport) record(pkg *model.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, pkg)
}

func (f *fakePackageTransport) AddPackage(_ context.Context, node *model.FleetNode, pkg *model.Package) (*model.Package, error) {
	if err := f.peers.hit(node); err != nil {
		return nil, err
	}
	f.record(pkg)
	return pkg, nil
}

func (f *fakePackageTransport) CancelPackage(_ context.Context, node *model.FleetNode, _ uuid.UUID) error {
	return f.peers.hit(node)
}

func (f *fakePackageTransport) RemovePackage(_ context.Context, node *model.FleetNode, _ uuid.UUID) error {
	return f.peers.hit(node)
}

func (f *fakePackageTransport) DisableExpirePackage(_ context.Context, node *model.FleetNode) error {
	return f.peers.hit(node)
}

func (f *fakePackageTransport) SyncPackage(_ context.Context, node *model.FleetNode, snapshot *model.Package) error {
	if err := f.peers.hit(node); err != nil {
		return err
	}
	f.record(snapshot)
	return nil
}

func (f *fakePackageTransport) GetAllPackageByUsername(_ context.Context, node *model.FleetNode, _ string) ([]*model.Package, error) {
	if err := f.peers.hit(node); err != nil {
		return nil, err
	}
	return f.byUser[node.HostIPAddress], nil
}

type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]model.Job
	addErr  error
	updates []model.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]model.Job)}
}

func (f *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &job, nil
}

func (f *fakeJobRepo) Add(_ context.Context, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobRepo) Update(_ context.Context, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	f.updates = append(f.updates, *job)
	return nil
}

type fakeIPRepo struct {
	mu          sync.Mutex
	candidates  []*model.IPAddress
	inventory   []*model.IPAddress
	candErr     error
	activeErr   error
	activated   []string
	batch       []*model.IPAddress
	deleteCount int
}

func (f *fakeIPRepo) GetByIPMask(context.Context, string) ([]*model.IPAddress, error) {
	return f.candidates, f.candErr
}

func (f *fakeIPRepo) GetAll(context.Context) ([]*model.IPAddress, error) {
	return f.inventory, nil
}

func (f *fakeIPRepo) ActiveIPMask(_ context.Context, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, cidr)
	return f.activeErr
}

func (f *fakeIPRepo) AddBatch(_ context.Context, addresses []*model.IPAddress) (int, error) {
	f.batch = append(f.batch, addresses...)
	return len(addresses), nil
}

func (f *fakeIPRepo) DeleteByIPMask(context.Context, string) (int, error) {
	return f.deleteCount, nil
}

type fakeProvisioner struct {
	fail      map[string]bool
	attempted []string
}

func (f *fakeProvisioner) Add(_ context.Context, addresses []*model.IPAddress) ([]*model.IPAddress, error) {
	added := make([]*model.IPAddress, 0, len(addresses))
	for _, item := range addresses {
		f.attempted = append(f.attempted, item.IP)
		if f.fail[item.IP] {
			continue
		}
		added = append(added, item)
	}
	return added, nil
}

type fakeConfigWriter struct {
	mu      sync.Mutex
	written [][]*model.IPAddress
	err     error
}

func (f *fakeConfigWriter) Add(_ context.Context, addresses []*model.IPAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, addresses)
	return f.err
}

func addresses(ips ...string) []*model.IPAddress {
	out := make([]*model.IPAddress, 0, len(ips))
	for _, ip := range ips {
		out = append(out, &model.IPAddress{IP: ip, Mask: 29, Interface: "eth0", Port: 3128, IsActive: true})
	}
	return out
}

type fakeSyncRepo struct {
	candidates  []model.SyncCandidate
	stale       []*model.SyncRecord
	thresholds  []int
	staleBefore time.Time
	added       []model.SyncRecord
	updated     []model.SyncRecord
	addErrFor   map[uuid.UUID]error
	updateErr   error
	fetchErr    error
}

func (f *fakeSyncRepo) Add(_ context.Context, record *model.SyncRecord) error {
	if err := f.addErrFor[record.ReferencesID]; err != nil {
		return err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.added = append(f.added, *record)
	return nil
}

func (f *fakeSyncRepo) Update(_ context.Context, record *model.SyncRecord) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, *record)
	return nil
}

func (f *fakeSyncRepo) fetch(threshold int) ([]model.SyncCandidate, error) {
	f.thresholds = append(f.thresholds, threshold)
	return f.candidates, f.fetchErr
}

func (f *fakeSyncRepo) GetPackageNotSynced(_ context.Context, threshold int) ([]model.SyncCandidate, error) {
	return f.fetch(threshold)
}

func (f *fakeSyncRepo) GetPackageCancelled(_ context.Context, threshold int) ([]model.SyncCandidate, error) {
	return f.fetch(threshold)
}

func (f *fakeSyncRepo) GetPackageExpired(_ context.Context, threshold int) ([]model.SyncCandidate, error) {
	return f.fetch(threshold)
}

func (f *fakeSyncRepo) GetUserNotSynced(_ context.Context, threshold int) ([]model.SyncCandidate, error) {
	return f.fetch(threshold)
}

func (f *fakeSyncRepo) GetInProcessBefore(_ context.Context, before time.Time) ([]*model.SyncRecord, error) {
	f.staleBefore = before
	return f.stale, nil
}
