package model

import (
	"time"

	"github.com/google/uuid"
)

type FleetNode struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	Name                  string     `db:"name" json:"name"`
	IPRange               []string   `db:"ip_range" json:"ip_range"`
	HostIPAddress         string     `db:"host_ip_address" json:"host_ip_address"`
	InternalHostIPAddress *string    `db:"internal_host_ip_address" json:"internal_host_ip_address,omitempty"`
	HostAPIPort           int        `db:"host_api_port" json:"host_api_port"`
	IsEnable              bool       `db:"is_enable" json:"is_enable"`
	InsertDate            time.Time  `db:"insert_date" json:"insert_date"`
	UpdateDate            *time.Time `db:"update_date" json:"update_date,omitempty"`
}

type Ownership string

const (
	OwnershipInternal Ownership = "internal"
	OwnershipExternal Ownership = "external"
)

// NetworkInterface is one interface of a fleet member. Host is the member's
// host ip address when the interface list spans several nodes.
type NetworkInterface struct {
	Host      string   `json:"host,omitempty"`
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
}
