package handler

import (
	"GraderUsageETL/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// RouterOptions configures per-client rate limiting.
type RouterOptions struct {
	RequestsPerSecond float64
	Burst             int
}

// NewRouter wires every route of the admin API.
func NewRouter(h *Handler, opts RouterOptions, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	router.Use(cors.New(config))
	router.Use(middleware.RateLimitMiddleware(opts.RequestsPerSecond, opts.Burst))

	router.GET("/healthz", h.Healthz)
	router.POST("/login", h.Login)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	protected := router.Group("/api").Use(middleware.AuthMiddleware(h.deps.Issuer))
	{
		protected.GET("/stats", h.GetStats)
		protected.GET("/runs", h.ListRuns)
		protected.GET("/runs/:id", h.GetRun)
		protected.POST("/runs", h.TriggerRun)
	}

	router.GET("/ws/runs", h.HandleRunEvents)
	return router
}
