package handler

import (
	"net/http"
	"strings"

	"byggassistent/internal/middleware"
	"byggassistent/internal/model"
	"byggassistent/internal/retrieval"
	"byggassistent/internal/service"
	"byggassistent/pkg/log"

	"github.com/gin-gonic/gin"
)

// AskRequest 是 /ask 与 /api/v1/chat 的请求体。
type AskRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id"`
	Sections   []string `json:"sections"`
	Matchers   []string `json:"matchers"`
	PerSection bool     `json:"per_section"`
}

// bindAsk 解析请求体；会话 ID 优先取请求体，其次取中间件解析出的值。
func bindAsk(c *gin.Context) (AskRequest, error) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 请求体解析失败: %v", err)
		return req, retrieval.ErrEmptyQuery
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, retrieval.ErrEmptyQuery
	}
	if req.SessionID == "" {
		req.SessionID = middleware.SessionID(c)
	}
	return req, nil
}

// SearchHandler 结构体定义了片段模式问答的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Ask 处理 POST /ask，返回 {summary, references}。
func (h *SearchHandler) Ask(c *gin.Context) {
	req, err := bindAsk(c)
	if err != nil {
		respondError(c, err)
		return
	}
	answer, err := h.searchService.Ask(c.Request.Context(), service.SearchRequest{
		Query:     req.Query,
		SessionID: req.SessionID,
		Sections:  req.Sections,
		Matchers:  req.Matchers,
	})
	if err != nil {
		log.Errorf("[SearchHandler] 问答失败, query: '%s', error: %v", req.Query, err)
		respondError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, model.SearchResponse{Summary: answer.Summary, References: answer.References})
}
