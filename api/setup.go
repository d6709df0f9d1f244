package api

import (
	"fmt"

	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRouter 装配服务容器并构建 HTTP 路由
// 返回的容器由调用方负责 Close
func SetupRouter(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*gin.Engine, *AppContainer, error) {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	container, err := BuildContainer(cfg, db, rdb)
	if err != nil {
		return nil, nil, fmt.Errorf("装配服务容器失败: %w", err)
	}
	handlers := BuildHandlers(container)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORS())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(metrics.PrometheusMiddleware())

	// 系统端点不要求租户身份
	r.GET("/health", HealthCheck(db))
	r.GET("/ready", ReadinessCheck(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 限流按租户维度
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.GinTenantContextMiddleware(logger.Get()))
	apiGroup.Use(middleware.RateLimitByTenant(limiter))
	RegisterRoutes(apiGroup, handlers)

	return r, container, nil
}
