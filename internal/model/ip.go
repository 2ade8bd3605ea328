package model

import "time"

type IPAddress struct {
	IP         string     `db:"ip" json:"ip"`
	Mask       int        `db:"mask" json:"mask"`
	Gateway    string     `db:"gateway" json:"gateway"`
	Interface  string     `db:"interface" json:"interface"`
	Port       int        `db:"port" json:"port"`
	Type       string     `db:"type" json:"type"`
	Country    string     `db:"country" json:"country"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	InsertDate time.Time  `db:"insert_date" json:"insert_date"`
	UpdateDate *time.Time `db:"update_date" json:"update_date,omitempty"`
}
