// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"byggassistent/pkg/log"
	"byggassistent/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	// SessionIDKey 是会话 ID 在 Gin 上下文中的键
	SessionIDKey = "sessionID"
	// SessionHeader 允许客户端不使用令牌直接指定会话
	SessionHeader = "X-Session-ID"
)

// SessionMiddleware 从 "Authorization: Bearer <token>" 或 X-Session-ID 头解析会话 ID 并存入上下文。
// 两者都不存在时请求按无状态处理；令牌无效时返回 401。
func SessionMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		const bearerPrefix = "Bearer "
		if authHeader := c.GetHeader("Authorization"); jwtManager != nil && strings.HasPrefix(authHeader, bearerPrefix) {
			claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
			if err != nil {
				log.Warnf("[SessionMiddleware] 无效的会话令牌: %v", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    http.StatusUnauthorized,
					"message": "Ugyldig eller utløpt sesjonstoken",
					"data":    nil,
				})
				return
			}
			c.Set(SessionIDKey, claims.SessionID)
		} else if id := strings.TrimSpace(c.GetHeader(SessionHeader)); id != "" {
			c.Set(SessionIDKey, id)
		}
		c.Next()
	}
}

// SessionID 返回中间件解析出的会话 ID，没有时为空字符串。
func SessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
