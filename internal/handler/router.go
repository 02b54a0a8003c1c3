package handler

import (
	"byggassistent/internal/middleware"
	"byggassistent/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总所有路由处理器。
type Handlers struct {
	Search  *SearchHandler
	Chat    *ChatHandler
	Session *SessionHandler
	Health  *HealthHandler
}

// NewRouter 创建路由引擎并注册全部路由。Chat 为 nil 时不注册生成模式的路由。
func NewRouter(h Handlers, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", h.Health.Health)

	withSession := r.Group("/")
	withSession.Use(middleware.SessionMiddleware(jwtManager))
	withSession.POST("/ask", h.Search.Ask)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.SessionMiddleware(jwtManager))
	{
		apiV1.POST("/ask", h.Search.Ask)

		if h.Chat != nil {
			chat := apiV1.Group("/chat")
			{
				chat.POST("", h.Chat.Chat)
				chat.GET("/ws", h.Chat.Stream)
			}
		}

		sessions := apiV1.Group("/sessions")
		{
			sessions.POST("", h.Session.Create)
			sessions.GET("/:id/history", h.Session.History)
			sessions.GET("/:id/archive", h.Session.Archive)
			sessions.DELETE("/:id", h.Session.Reset)
		}
	}
	return r
}
