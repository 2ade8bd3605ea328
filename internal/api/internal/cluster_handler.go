package internalapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/peer"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
)

// Local services a peer request runs against. Peer requests never fan out.
type (
	LocalPackageService interface {
		Add(ctx context.Context, req *model.Package) (*model.Package, error)
		Cancel(ctx context.Context, id uuid.UUID) error
		Remove(ctx context.Context, id uuid.UUID) error
		DisableExpirePackage(ctx context.Context) ([]*model.Package, error)
		ApplySnapshot(ctx context.Context, snapshot *model.Package) (*model.Package, error)
		GetAllByUsername(ctx context.Context, username string) ([]*model.Package, error)
	}

	LocalUserService interface {
		ApplyUser(ctx context.Context, user *model.User) error
		ApplyPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
		ApplyStatus(ctx context.Context, id uuid.UUID, isEnable bool) error
	}

	LocalServerService interface {
		LocalInterfaces(ctx context.Context) ([]model.NetworkInterface, error)
	}

	LocalIPService interface {
		GenerateLocal(ctx context.Context, req service.GenerateIPRequest) (*model.Job, error)
		DeleteLocal(ctx context.Context, cidr string) (*model.Job, error)
	}
)

type ClusterHandler struct {
	packages LocalPackageService
	users    LocalUserService
	servers  LocalServerService
	ips      LocalIPService
}

func NewClusterHandler(packages LocalPackageService, users LocalUserService, servers LocalServerService, ips LocalIPService) *ClusterHandler {
	return &ClusterHandler{packages: packages, users: users, servers: servers, ips: ips}
}

func RegisterClusterRoutes(group *gin.RouterGroup, handler *ClusterHandler) {
	group.POST(peer.PathPackages, handler.AddPackage)
	group.POST(peer.PathPackagesExpire, handler.DisableExpirePackage)
	group.POST(peer.PathPackages+"/:id/cancel", handler.CancelPackage)
	group.DELETE(peer.PathPackages+"/:id", handler.RemovePackage)
	group.PUT(peer.PathPackages+"/:id/sync", handler.SyncPackage)
	group.GET(peer.PathPackagesByUser+":username", handler.GetAllPackageByUsername)

	group.POST(peer.PathUsers, handler.AddUser)
	group.PUT(peer.PathUsers+"/:id/password", handler.ChangeUserPassword)
	group.PUT(peer.PathUsers+"/:id/status", handler.ChangeUserStatus)

	group.GET(peer.PathServerInterfaces, handler.GetAllInterface)

	group.POST(peer.PathIPs, handler.GenerateIP)
	group.DELETE(peer.PathIPs, handler.DeleteIP)
}

func (h *ClusterHandler) AddPackage(c *gin.Context) {
	var req model.Package
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	pkg, err := h.packages.Add(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, pkg)
}

func (h *ClusterHandler) CancelPackage(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.packages.Cancel(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *ClusterHandler) RemovePackage(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.packages.Remove(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *ClusterHandler) DisableExpirePackage(c *gin.Context) {
	expired, err := h.packages.DisableExpirePackage(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"expired": len(expired)})
}

func (h *ClusterHandler) SyncPackage(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var snapshot model.Package
	if err := c.ShouldBindJSON(&snapshot); err != nil || snapshot.ID != id {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	pkg, err := h.packages.ApplySnapshot(c.Request.Context(), &snapshot)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, pkg)
}

func (h *ClusterHandler) GetAllPackageByUsername(c *gin.Context) {
	packages, err := h.packages.GetAllByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, packages)
}

func (h *ClusterHandler) AddUser(c *gin.Context) {
	var req peer.UserPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	if err := h.users.ApplyUser(c.Request.Context(), req.User()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *ClusterHandler) ChangeUserPassword(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req peer.PasswordPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	if err := h.users.ApplyPassword(c.Request.Context(), id, req.PasswordHash); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *ClusterHandler) ChangeUserStatus(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req peer.StatusPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	if err := h.users.ApplyStatus(c.Request.Context(), id, req.IsEnable); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *ClusterHandler) GetAllInterface(c *gin.Context) {
	items, err := h.servers.LocalInterfaces(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, items)
}

func (h *ClusterHandler) GenerateIP(c *gin.Context) {
	var req service.GenerateIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}

	job, err := h.ips.GenerateLocal(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, job)
}

func (h *ClusterHandler) DeleteIP(c *gin.Context) {
	cidr := strings.TrimSpace(c.Query("cidr"))
	if cidr == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "cidr is required")
		return
	}

	job, err := h.ips.DeleteLocal(c.Request.Context(), cidr)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, job)
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
