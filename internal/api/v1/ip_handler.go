package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
)

type IPRouter interface {
	Generate(ctx context.Context, req service.GenerateIPRequest) (*model.Job, error)
	Delete(ctx context.Context, cidr string) (*model.Job, error)
}

type JobQuery interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Reload(ctx context.Context) (*model.Job, error)
}

type IPHandler struct {
	ips  IPRouter
	jobs JobQuery
}

func NewIPHandler(ips IPRouter, jobs JobQuery) *IPHandler {
	return &IPHandler{ips: ips, jobs: jobs}
}

func RegisterIPRoutes(group *gin.RouterGroup, ips IPRouter, jobs JobQuery) {
	handler := NewIPHandler(ips, jobs)

	group.POST("/ips", handler.Generate)
	group.DELETE("/ips", handler.Delete)
	group.POST("/ips/reload", handler.Reload)
	group.GET("/jobs/:id", handler.GetJob)
}

// Generate answers 202 because provisioning continues after the response.
func (h *IPHandler) Generate(c *gin.Context) {
	var req service.GenerateIPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.IP) == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "invalid request")
		return
	}
	job, err := h.ips.Generate(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{Code: response.CodeSuccess, Message: "success", Data: job})
}

func (h *IPHandler) Delete(c *gin.Context) {
	cidr := strings.TrimSpace(c.Query("cidr"))
	if cidr == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput, "cidr is required")
		return
	}
	job, err := h.ips.Delete(c.Request.Context(), cidr)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{Code: response.CodeSuccess, Message: "success", Data: job})
}

func (h *IPHandler) Reload(c *gin.Context) {
	job, err := h.jobs.Reload(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{Code: response.CodeSuccess, Message: "success", Data: job})
}

func (h *IPHandler) GetJob(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, job)
}
