package handler

import (
	"net/http"
	"strconv"

	"byggassistent/internal/service"
	"byggassistent/pkg/log"
	"byggassistent/pkg/token"

	"github.com/gin-gonic/gin"
)

// SessionHandler 处理会话的创建、查询与重置。
type SessionHandler struct {
	conversations service.ConversationService
	jwtManager    *token.JWTManager
	archive       *service.ArchiveService
}

// NewSessionHandler 创建一个新的 SessionHandler。jwtManager 与 archive 可以为 nil。
func NewSessionHandler(conversations service.ConversationService, jwtManager *token.JWTManager, archive *service.ArchiveService) *SessionHandler {
	return &SessionHandler{conversations: conversations, jwtManager: jwtManager, archive: archive}
}

// Create 新建会话，并在配置了签名密钥时返回会话令牌。
func (h *SessionHandler) Create(c *gin.Context) {
	sessionID, err := h.conversations.CreateSession(c.Request.Context())
	if err != nil {
		log.Errorf("[SessionHandler] 创建会话失败: %v", err)
		respondError(c, err)
		return
	}
	data := gin.H{"sessionId": sessionID}
	if h.jwtManager != nil {
		tok, err := h.jwtManager.GenerateToken(sessionID)
		if err != nil {
			log.Errorf("[SessionHandler] 生成会话令牌失败: %v", err)
			respondError(c, err)
			return
		}
		data["token"] = tok
	}
	c.PureJSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": data})
}

// History 返回会话的完整消息日志。
func (h *SessionHandler) History(c *gin.Context) {
	history, err := h.conversations.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"turns": history, "maxTurns": h.conversations.MaxTurns()})
}

// Reset 清空会话日志。
func (h *SessionHandler) Reset(c *gin.Context) {
	if err := h.conversations.Reset(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// Archive 返回 MySQL 中归档的问答记录。
func (h *SessionHandler) Archive(c *gin.Context) {
	if h.archive == nil {
		c.PureJSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "Arkivering er ikke aktivert", "data": nil})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	records, err := h.archive.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		log.Errorf("[SessionHandler] 查询归档失败: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, records)
}
