package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/bosted-app/backend/internal/config"
	"github.com/bosted-app/backend/internal/logging"
	"github.com/bosted-app/backend/internal/metrics"
	"github.com/bosted-app/backend/internal/model"
	"github.com/bosted-app/backend/internal/service"
)

type RouterDeps struct {
	Auth    *service.AuthService
	Cookie  CookieConfig
	Server  config.ServerConfig
	Store   Pinger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter wires every route. Auth routes are served under /api/v1 and at
// the bare /auth prefix.
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		RequestID(),
		RequestLogger(log, deps.Metrics),
		CORSMiddleware(deps.Server.AllowedOrigins, true),
		MaxBodyBytes(deps.Server.MaxBodyBytes),
	)

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/healthz", Healthz)
	router.GET("/readyz", Readyz(deps.Store))
	router.GET("/openapi.json", OpenAPIDoc)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authHandler := NewAuthHandler(deps.Auth, deps.Cookie, log)
	limiter := NewIPRateLimiter(deps.Server.RateLimit, deps.Server.RateBurst)

	registerAuthRoutes(router.Group("/api/v1/auth"), authHandler, deps.Auth, limiter)
	registerAuthRoutes(router.Group("/auth"), authHandler, deps.Auth, limiter)

	return router
}

func registerAuthRoutes(g *gin.RouterGroup, h *AuthHandler, parser TokenParser, limiter *IPRateLimiter) {
	limited := g.Group("", limiter.Middleware())
	limited.POST("/login", h.Login)
	limited.POST("/register", h.Register)
	limited.POST("/refresh", h.Refresh)
	limited.POST("/change-password", h.ChangePassword)

	g.POST("/logout", h.Logout)

	protected := g.Group("", AuthMiddleware(parser))
	protected.GET("/me", h.Me)
	protected.POST("/logout-all", h.LogoutAll)
	protected.GET("/bosted/:bostedId/access", RequireTenantParam("bostedId"), h.TenantAccess)
	protected.POST("/users/:id/revoke-sessions", RequireRole(model.RoleAdmin, model.RoleStaff), h.RevokeSessions)
}
