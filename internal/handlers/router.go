package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/metrics"
)

type RouterConfig struct {
	Handler        *Handler
	Auth           *auth.Service
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	AllowedOrigins []string
}

// NewRouter mounts every route at the root and again under /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(log))
	r.Use(RequestLogger(log))
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(Metrics(cfg.Metrics))
	r.Use(OptionalAuth(cfg.Auth, log))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": ServiceName,
			"version": APIVersion,
			"docs":    "/status",
		})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	registerRoutes(&r.RouterGroup, cfg.Handler, cfg.Auth)
	registerRoutes(r.Group("/api/v1"), cfg.Handler, cfg.Auth)

	return r
}

func registerRoutes(g *gin.RouterGroup, h *Handler, svc *auth.Service) {
	requireAuth := RequireAuth(svc)

	g.POST("/predict", h.Predict)
	g.GET("/emotions", h.Emotions)
	g.GET("/model/info", h.ModelInfo)
	g.POST("/model/reload", requireAuth, h.ReloadModel)
	g.GET("/health", h.Health)
	g.GET("/status", h.Status)
	g.GET("/ws", h.WebSocket)

	authGroup := g.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/verify", h.VerifyToken)
	authGroup.GET("/users/me", requireAuth, h.Me)

	dash := g.Group("/dashboard")
	dash.GET("/stats", h.DashboardStats)
	dash.GET("/recent", h.DashboardRecent)
	dash.GET("/timeline", h.DashboardTimeline)
	dash.GET("/emotion/:name", h.DashboardEmotion)
}
