// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"byggassistent/internal/middleware"
	"byggassistent/internal/service"
	"byggassistent/pkg/log"
	"byggassistent/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责生成模式的问答，包括 REST 与 WebSocket 流式两种方式。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

// Chat 处理 POST /api/v1/chat，返回 {answer, references, sources}。
func (h *ChatHandler) Chat(c *gin.Context) {
	req, err := bindAsk(c)
	if err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.chatService.Answer(c.Request.Context(), service.ChatRequest{
		Query:      req.Query,
		SessionID:  req.SessionID,
		Sections:   req.Sections,
		Matchers:   req.Matchers,
		PerSection: req.PerSection,
	})
	if err != nil {
		log.Errorf("[ChatHandler] 生成回答失败, query: '%s', error: %v", req.Query, err)
		respondError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, resp)
}

// wsMessage 是客户端通过 WebSocket 发送的消息，纯文本消息视为问题。
type wsMessage struct {
	Type       string   `json:"type"`
	Query      string   `json:"query"`
	Sections   []string `json:"sections"`
	Matchers   []string `json:"matchers"`
	PerSection bool     `json:"per_section"`
}

// lockedConn 串行化对同一连接的写入。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v interface{}) {
	b, _ := json.Marshal(v)
	_ = l.WriteMessage(websocket.TextMessage, b)
}

// Stream 处理 GET /api/v1/chat/ws。会话由 ?token= 或 ?session_id= 指定，
// 客户端发送 {"type":"stop"} 可以中断正在进行的回答。
func (h *ChatHandler) Stream(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if tok := c.Query("token"); tok != "" && h.jwtManager != nil {
		claims, err := h.jwtManager.VerifyToken(tok)
		if err != nil {
			c.PureJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "Ugyldig sesjonstoken", "data": nil})
			return
		}
		sessionID = claims.SessionID
	} else if id := c.Query("session_id"); id != "" {
		sessionID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, sessionID: %s", sessionID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	lc := &lockedConn{conn: conn}
	var (
		wg      sync.WaitGroup
		busy    atomic.Bool
		stopped atomic.Bool
		// cancelStream 只在读循环中访问，stop 命令通过它取消正在进行的上游调用
		cancelStream context.CancelFunc = func() {}
	)
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			cancel()
			return
		}

		msg := wsMessage{Query: string(raw)}
		if len(raw) > 0 && raw[0] == '{' {
			msg = wsMessage{}
			if err := json.Unmarshal(raw, &msg); err != nil {
				lc.writeJSON(gin.H{"type": "error", "code": http.StatusBadRequest, "error": "Ugyldig melding"})
				continue
			}
		}
		if msg.Type == "stop" {
			stopped.Store(true)
			cancelStream()
			lc.writeJSON(gin.H{"type": "stop", "message": "Svaret ble stoppet", "timestamp": time.Now().UnixMilli()})
			continue
		}
		if strings.TrimSpace(msg.Query) == "" {
			lc.writeJSON(gin.H{"type": "error", "code": http.StatusBadRequest, "error": "Ingen spørsmål mottatt"})
			continue
		}
		if !busy.CompareAndSwap(false, true) {
			lc.writeJSON(gin.H{"type": "error", "code": http.StatusTooManyRequests, "error": "Et svar genereres allerede"})
			continue
		}
		stopped.Store(false)

		req := service.ChatRequest{
			Query:      msg.Query,
			SessionID:  sessionID,
			Sections:   msg.Sections,
			Matchers:   msg.Matchers,
			PerSection: msg.PerSection,
		}
		streamCtx, streamCancel := context.WithCancel(ctx)
		cancelStream = streamCancel

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer busy.Store(false)
			defer streamCancel()
			if err := h.chatService.StreamResponse(streamCtx, req, lc, stopped.Load); err != nil {
				log.Errorf("[ChatHandler] 处理流式响应失败: %v", err)
				status := statusFor(err)
				lc.writeJSON(gin.H{"type": "error", "code": status, "error": userMessage(err)})
			}
		}()
	}
}
