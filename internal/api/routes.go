package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	internalapi "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/internal"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/middleware"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
	v1 "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/v1"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/peer"
)

// AdminServices are the replicated operations exposed to operators.
type AdminServices struct {
	Packages v1.PackageReplicator
	Users    v1.UserReplicator
	Servers  v1.ServerReplicator
	IPs      v1.IPRouter
	Jobs     v1.JobQuery
}

func NewRouter(logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	return router
}

// ClusterServices are the local operations peers may invoke.
type ClusterServices struct {
	Packages internalapi.LocalPackageService
	Users    internalapi.LocalUserService
	Servers  internalapi.LocalServerService
	IPs      internalapi.LocalIPService
}

// RegisterClusterRoutes mounts the peer endpoints. They run the local
// operation only.
func RegisterClusterRoutes(router gin.IRouter, secret []byte, services ClusterServices) {
	group := router.Group(peer.RoutePrefix, middleware.PeerAuth(secret))
	handler := internalapi.NewClusterHandler(services.Packages, services.Users, services.Servers, services.IPs)
	internalapi.RegisterClusterRoutes(group, handler)
}

func RegisterAdminRoutes(router gin.IRouter, adminToken string, limiter *middleware.RateLimiter, services AdminServices) {
	handlers := []gin.HandlerFunc{}
	if limiter != nil {
		handlers = append(handlers, limiter.ByClientIP())
	}
	handlers = append(handlers, middleware.AdminTokenAuth(adminToken))

	group := router.Group("/api/v1", handlers...)
	v1.RegisterPackageRoutes(group, services.Packages)
	v1.RegisterUserRoutes(group, services.Users)
	v1.RegisterServerRoutes(group, services.Servers)
	v1.RegisterIPRoutes(group, services.IPs, services.Jobs)
}

// RegisterSystemRoutes mounts health probes and the metrics endpoint.
func RegisterSystemRoutes(router gin.IRouter, pool *pgxpool.Pool) {
	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if pool == nil {
			response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal, "database not configured")
			return
		}
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal, "database unavailable")
			return
		}
		response.Success(c, gin.H{"status": "ready"})
	})
	router.GET("/internal/metrics", gin.WrapH(promhttp.Handler()))
}
