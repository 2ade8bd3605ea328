package peer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

const (
	RoutePrefix = "/api/cluster"

	PathPackages         = "/packages"
	PathPackagesExpire   = "/packages/expire"
	PathPackagesByUser   = "/packages/user/"
	PathUsers            = "/users"
	PathServerInterfaces = "/servers/interfaces"
	PathIPs              = "/ips"
)

// UserPayload carries a user between nodes. Unlike model.User it includes
// the password hash.
type UserPayload struct {
	ID           uuid.UUID      `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"password_hash"`
	Role         model.UserRole `json:"role"`
	IsEnable     bool           `json:"is_enable"`
	InsertDate   time.Time      `json:"insert_date"`
}

func NewUserPayload(user *model.User) UserPayload {
	return UserPayload{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		IsEnable:     user.IsEnable,
		InsertDate:   user.InsertDate,
	}
}

func (p UserPayload) User() *model.User {
	return &model.User{
		ID:           p.ID,
		Username:     p.Username,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		IsEnable:     p.IsEnable,
		InsertDate:   p.InsertDate,
	}
}

type PasswordPayload struct {
	PasswordHash string `json:"password_hash"`
}

type StatusPayload struct {
	IsEnable bool `json:"is_enable"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
