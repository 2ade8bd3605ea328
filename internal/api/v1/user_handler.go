package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

type UserReplicator interface {
	Add(ctx context.Context, username, password string) (*model.User, error)
	AddAdmin(ctx context.Context, username, password string) (*model.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, password string) (*model.User, error)
	Disable(ctx context.Context, id uuid.UUID) (*model.User, error)
	Enable(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type UserHandler struct {
	users UserReplicator
}

type createUserRequest struct {
	Username   string `json:"username" binding:"required"`
	Credential string `json:"password" binding:"required"` // #nosec G117 -- request DTO field.
	Admin      bool   `json:"admin"`
}

type changePasswordRequest struct {
	Credential string `json:"password" binding:"required"` // #nosec G117 -- request DTO field.
}

type statusUpdateRequest struct {
	IsEnable *bool `json:"is_enable" binding:"required"`
}

func NewUserHandler(users UserReplicator) *UserHandler {
	return &UserHandler{users: users}
}

func RegisterUserRoutes(group *gin.RouterGroup, users UserReplicator) {
	handler := NewUserHandler(users)
	routes := group.Group("/users")

	routes.POST("", handler.Create)
	routes.PUT("/:id/password", handler.ChangePassword)
	routes.PATCH("/:id/status", handler.SetStatus)
}

func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	add := h.users.Add
	if req.Admin {
		add = h.users.AddAdmin
	}
	user, err := add(c.Request.Context(), req.Username, req.Credential)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, user)
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	user, err := h.users.ChangePassword(c.Request.Context(), id, req.Credential)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}

func (h *UserHandler) SetStatus(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	change := h.users.Disable
	if *req.IsEnable {
		change = h.users.Enable
	}
	user, err := change(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}
