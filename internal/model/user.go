package model

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	IsEnable     bool       `db:"is_enable" json:"is_enable"`
	InsertDate   time.Time  `db:"insert_date" json:"insert_date"`
	UpdateDate   *time.Time `db:"update_date" json:"update_date,omitempty"`
}
