package handler

import (
	"net/http"

	"byggassistent/internal/corpus"

	"github.com/gin-gonic/gin"
)

// HealthHandler 报告语料加载情况。
type HealthHandler struct {
	store *corpus.Store
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(store *corpus.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health 处理 GET /healthz。
func (h *HealthHandler) Health(c *gin.Context) {
	c.PureJSON(http.StatusOK, gin.H{
		"status":    "ok",
		"passages":  h.store.Len(),
		"sections":  h.store.Counts(),
		"dimension": h.store.Dimension(),
	})
}
