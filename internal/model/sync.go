package model

import (
	"time"

	"github.com/google/uuid"
)

type SyncService string

type SyncStatus string

const (
	SyncServicePackage            SyncService = "sync_package"
	SyncServiceCancelSubscription SyncService = "cancel_subscription"
	SyncServiceExpirePackage      SyncService = "expire_package"
	SyncServiceUser               SyncService = "sync_user"
)

// Stored statuses. A pair whose error count exceeds the fail threshold is
// reported as SyncStatusFail, which is never written to storage.
const (
	SyncStatusProcess SyncStatus = "process"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
	SyncStatusFail    SyncStatus = "fail"
)

type SyncRecord struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	ReferencesID uuid.UUID   `db:"references_id" json:"references_id"`
	ServiceName  SyncService `db:"service_name" json:"service_name"`
	Status       SyncStatus  `db:"status" json:"status"`
	InsertDate   time.Time   `db:"insert_date" json:"insert_date"`
	UpdateDate   *time.Time  `db:"update_date" json:"update_date,omitempty"`
}

// SyncCandidate is one entity that a reconciliation pass may re-drive.
// Status is empty when the pair has no history yet.
type SyncCandidate struct {
	ReferencesID uuid.UUID   `json:"references_id"`
	ServiceName  SyncService `json:"service_name"`
	Status       SyncStatus  `json:"status,omitempty"`
	ErrorCount   int         `json:"error_count"`
	LastTouched  time.Time   `json:"last_touched"`
}

func (c SyncCandidate) DerivedStatus(failThreshold int) SyncStatus {
	if c.ErrorCount > failThreshold {
		return SyncStatusFail
	}
	return c.Status
}
