package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTP 头常量（租户与操作者身份由网关注入）
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// GinTenantContextMiddleware 从请求头提取租户与操作者身份，注入 Gin 上下文。
// 网关完成认证后透传身份头，缺少租户头的请求直接拒绝。
func GinTenantContextMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenantID == "" {
			log.Warn("request missing tenant header", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "缺少租户信息"})
			return
		}

		c.Set("tenant_id", tenantID)
		c.Set("user_id", strings.TrimSpace(c.GetHeader(HeaderUserID)))

		c.Next()
	}
}
