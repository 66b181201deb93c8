package http

import (
	"net/http"

	"voicelink/internal/infrastructure/middleware"
	"voicelink/internal/infrastructure/monitoring"
	"voicelink/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter assembles the control API router: middleware stack, engine
// routes, health and metrics endpoints.
func NewRouter(cfg *config.Config, handler *EngineHandler, health *monitoring.HealthChecker, logger *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/healthz", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	if cfg.API.AuthEnabled {
		api.Use(middleware.AuthMiddleware(cfg.Signaling.AuthSecret))
	}
	handler.RegisterRoutes(api)

	return router
}
