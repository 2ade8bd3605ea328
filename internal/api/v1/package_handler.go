package v1

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

type PackageReplicator interface {
	Add(ctx context.Context, req *model.Package) (*model.Package, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
	SyncPackageByID(ctx context.Context, id uuid.UUID) error
	GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error)
}

type PackageHandler struct {
	packages PackageReplicator
}

type createPackageRequest struct {
	UserID     string  `json:"user_id" binding:"required"`
	CountIP    int     `json:"count_ip" binding:"required"`
	Type       string  `json:"type" binding:"required"`
	Country    string  `json:"country"`
	Renewal    bool    `json:"renewal"`
	ExpireDate *string `json:"expire_date"`
}

func NewPackageHandler(packages PackageReplicator) *PackageHandler {
	return &PackageHandler{packages: packages}
}

func RegisterPackageRoutes(group *gin.RouterGroup, packages PackageReplicator) {
	handler := NewPackageHandler(packages)
	routes := group.Group("/packages")

	routes.POST("", handler.Create)
	routes.GET("/user/:username", handler.ListByUsername)
	routes.POST("/:id/cancel", handler.Cancel)
	routes.POST("/:id/sync", handler.Sync)
	routes.DELETE("/:id", handler.Remove)
}

func (h *PackageHandler) Create(c *gin.Context) {
	var req createPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid user_id")
		return
	}

	pkg := &model.Package{
		UserID:  userID,
		CountIP: req.CountIP,
		Type:    strings.TrimSpace(req.Type),
		Country: strings.ToUpper(strings.TrimSpace(req.Country)),
		Renewal: req.Renewal,
	}
	if req.ExpireDate != nil && strings.TrimSpace(*req.ExpireDate) != "" {
		expireAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ExpireDate))
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "expire_date must be RFC3339")
			return
		}
		expireAt = expireAt.UTC()
		pkg.ExpireDate = &expireAt
	}

	created, err := h.packages.Add(c.Request.Context(), pkg)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, created)
}

func (h *PackageHandler) ListByUsername(c *gin.Context) {
	packages, err := h.packages.GetAllByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, packages)
}

func (h *PackageHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.packages.Cancel(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "status": model.PackageStatusCancel})
}

func (h *PackageHandler) Sync(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.packages.SyncPackageByID(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

func (h *PackageHandler) Remove(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.packages.Remove(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "status": model.PackageStatusDisable})
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
