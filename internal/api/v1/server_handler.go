package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
)

type ServerReplicator interface {
	GetAll(ctx context.Context) ([]*model.FleetNode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.FleetNode, error)
	Add(ctx context.Context, node *model.FleetNode) (*model.FleetNode, error)
	Update(ctx context.Context, node *model.FleetNode) (*model.FleetNode, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetAllInterface(ctx context.Context) ([]model.NetworkInterface, error)
	FindInstanceExecute(ctx context.Context, cidr string) (model.Ownership, *model.FleetNode, error)
}

type ServerHandler struct {
	servers ServerReplicator
}

type serverRequest struct {
	Name                  string   `json:"name" binding:"required"`
	IPRange               []string `json:"ip_range"`
	HostIPAddress         string   `json:"host_ip_address" binding:"required"`
	InternalHostIPAddress *string  `json:"internal_host_ip_address"`
	HostAPIPort           int      `json:"host_api_port" binding:"required"`
	IsEnable              *bool    `json:"is_enable"`
}

func (r serverRequest) node() *model.FleetNode {
	enabled := true
	if r.IsEnable != nil {
		enabled = *r.IsEnable
	}
	node := &model.FleetNode{
		Name:          strings.TrimSpace(r.Name),
		IPRange:       r.IPRange,
		HostIPAddress: strings.TrimSpace(r.HostIPAddress),
		HostAPIPort:   r.HostAPIPort,
		IsEnable:      enabled,
	}
	if r.InternalHostIPAddress != nil {
		internal := strings.TrimSpace(*r.InternalHostIPAddress)
		if internal != "" {
			node.InternalHostIPAddress = &internal
		}
	}
	return node
}

func NewServerHandler(servers ServerReplicator) *ServerHandler {
	return &ServerHandler{servers: servers}
}

func RegisterServerRoutes(group *gin.RouterGroup, servers ServerReplicator) {
	handler := NewServerHandler(servers)
	routes := group.Group("/servers")

	routes.GET("", handler.List)
	routes.POST("", handler.Create)
	routes.GET("/interfaces", handler.Interfaces)
	routes.GET("/instance", handler.FindInstance)
	routes.GET("/:id", handler.Get)
	routes.PUT("/:id", handler.Update)
	routes.DELETE("/:id", handler.Delete)
}

func (h *ServerHandler) List(c *gin.Context) {
	nodes, err := h.servers.GetAll(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nodes)
}

func (h *ServerHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	node, err := h.servers.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, node)
}

func (h *ServerHandler) Create(c *gin.Context) {
	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	node, err := h.servers.Add(c.Request.Context(), req.node())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, node)
}

func (h *ServerHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	node := req.node()
	node.ID = id

	updated, err := h.servers.Update(c.Request.Context(), node)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, updated)
}

func (h *ServerHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.servers.Delete(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

func (h *ServerHandler) Interfaces(c *gin.Context) {
	interfaces, err := h.servers.GetAllInterface(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, interfaces)
}

func (h *ServerHandler) FindInstance(c *gin.Context) {
	cidr := strings.TrimSpace(c.Query("cidr"))
	if cidr == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "cidr is required")
		return
	}
	ownership, node, err := h.servers.FindInstanceExecute(c.Request.Context(), cidr)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"ownership": ownership, "server": node})
}
