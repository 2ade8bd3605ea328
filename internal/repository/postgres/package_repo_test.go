package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

func TestPackageRepository_FindAvailableIPsSkipsHeldAddresses(t *testing.T) {
	pool := startPostgresForTest(t)
	ctx := context.Background()
	packages := NewPackageRepository(pool)
	ips := NewIPRepository(pool)

	userID := seedSyncUser(t, ctx, pool, "package_owner")

	addresses := []*model.IPAddress{
		{IP: "10.1.0.1", Mask: 29, Gateway: "10.1.0.6", Interface: "eth0", Port: 3128, Type: "isp", Country: "GB", IsActive: true},
		{IP: "10.1.0.2", Mask: 29, Gateway: "10.1.0.6", Interface: "eth0", Port: 3128, Type: "isp", Country: "GB", IsActive: true},
		{IP: "10.1.0.3", Mask: 29, Gateway: "10.1.0.6", Interface: "eth0", Port: 3128, Type: "isp", Country: "GB", IsActive: false},
		{IP: "10.1.0.4", Mask: 29, Gateway: "10.1.0.6", Interface: "eth0", Port: 3128, Type: "dc", Country: "GB", IsActive: true},
	}
	inserted, err := ips.AddBatch(ctx, addresses)
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if inserted != len(addresses) {
		t.Fatalf("expected %d inserted, got %d", len(addresses), inserted)
	}

	held := &model.Package{
		UserID:  userID,
		CountIP: 1,
		Type:    "isp",
		Country: "GB",
		Status:  model.PackageStatusEnable,
		IPList:  []model.PackageIP{{IP: "10.1.0.1", Port: 3128}},
	}
	if err := packages.Add(ctx, held); err != nil {
		t.Fatalf("add package: %v", err)
	}

	available, err := packages.FindAvailableIPs(ctx, userID, "isp", "GB", 10)
	if err != nil {
		t.Fatalf("FindAvailableIPs: %v", err)
	}
	if len(available) != 1 || available[0].IP != "10.1.0.2" {
		t.Fatalf("expected only 10.1.0.2, got %+v", available)
	}

	other, err := packages.FindAvailableIPs(ctx, uuid.New(), "isp", "", 10)
	if err != nil {
		t.Fatalf("FindAvailableIPs for other user: %v", err)
	}
	if len(other) != 2 {
		t.Fatalf("expected both active isp addresses for another user, got %+v", other)
	}
}

func TestPackageRepository_ExpireBefore(t *testing.T) {
	pool := startPostgresForTest(t)
	ctx := context.Background()
	packages := NewPackageRepository(pool)

	userID := seedSyncUser(t, ctx, pool, "expiring_owner")
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &model.Package{UserID: userID, CountIP: 1, Type: "isp", Status: model.PackageStatusCancel, ExpireDate: &past}
	active := &model.Package{UserID: userID, CountIP: 1, Type: "isp", Status: model.PackageStatusEnable, ExpireDate: &future}
	for _, pkg := range []*model.Package{expired, active} {
		if err := packages.Add(ctx, pkg); err != nil {
			t.Fatalf("add package: %v", err)
		}
	}

	changed, err := packages.ExpireBefore(ctx, now)
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != expired.ID || changed[0].Status != model.PackageStatusExpire {
		t.Fatalf("expected only the past package to expire, got %+v", changed)
	}
	if changed[0].Username != "expiring_owner" {
		t.Fatalf("expected username to be joined, got %q", changed[0].Username)
	}

	got, err := packages.GetByID(ctx, active.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.PackageStatusEnable {
		t.Fatalf("expected future package to stay enabled, got %s", got.Status)
	}
}

func TestPackageRepository_AddRollsBackWhenAddressInsertFails(t *testing.T) {
	pool := startPostgresForTest(t)
	ctx := context.Background()
	packages := NewPackageRepository(pool)

	userID := seedSyncUser(t, ctx, pool, "atomic_owner")
	pkg := &model.Package{
		UserID:  userID,
		CountIP: 1,
		Type:    "isp",
		Status:  model.PackageStatusEnable,
		IPList:  []model.PackageIP{{IP: strings.Repeat("9", 80), Port: 3128}},
	}

	if err := packages.Add(ctx, pkg); err == nil {
		t.Fatal("expected address insert to fail")
	}
	if _, err := packages.GetByID(ctx, pkg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected package row to be rolled back, got %v", err)
	}

	pkg.IPList = []model.PackageIP{{IP: "10.2.0.1", Port: 3128}}
	if err := packages.Add(ctx, pkg); err != nil {
		t.Fatalf("retry with the same id: %v", err)
	}
	got, err := packages.GetByID(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.IPList) != 1 || got.IPList[0].IP != "10.2.0.1" {
		t.Fatalf("expected stored address, got %+v", got.IPList)
	}
}
