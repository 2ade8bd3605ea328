package model

import (
	"time"

	"github.com/google/uuid"
)

type PackageStatus string

const (
	PackageStatusEnable  PackageStatus = "enable"
	PackageStatusCancel  PackageStatus = "cancel"
	PackageStatusExpire  PackageStatus = "expire"
	PackageStatusDisable PackageStatus = "disable"
)

type PackageIP struct {
	IP   string `db:"ip" json:"ip"`
	Port int    `db:"port" json:"port"`
}

type Package struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	UserID     uuid.UUID     `db:"user_id" json:"user_id"`
	Username   string        `db:"username" json:"username"`
	CountIP    int           `db:"count_ip" json:"count_ip"`
	Type       string        `db:"type" json:"type"`
	Country    string        `db:"country" json:"country"`
	IPList     []PackageIP   `db:"-" json:"ip_list"`
	Status     PackageStatus `db:"status" json:"status"`
	Renewal    bool          `db:"renewal" json:"renewal"`
	ExpireDate *time.Time    `db:"expire_date" json:"expire_date,omitempty"`
	CancelDate *time.Time    `db:"cancel_date" json:"cancel_date,omitempty"`
	InsertDate time.Time     `db:"insert_date" json:"insert_date"`
	UpdateDate *time.Time    `db:"update_date" json:"update_date,omitempty"`
}
