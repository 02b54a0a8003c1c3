// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"byggassistent/internal/config"
	"byggassistent/internal/model"
	"byggassistent/internal/retrieval"
	"byggassistent/pkg/llm"
	"byggassistent/pkg/log"

	"github.com/gorilla/websocket"
)

const (
	defaultRefStart     = "<<REF>>"
	defaultRefEnd       = "<<END>>"
	defaultNoResultText = "(Ingen relevante avsnitt ble funnet for dette spørsmålet.)"
	defaultRules        = "Du er en assistent for norske byggeforskrifter (TEK17, PBL og tilhørende regelverk). " +
		"Svar på norsk, kort og presist, og bygg svaret kun på utdragene mellom markørene. " +
		"Oppgi sidehenvisninger når du bruker et utdrag. Hvis utdragene ikke dekker spørsmålet, si det."
)

// ChatRequest 是一次生成模式的问答请求。
type ChatRequest struct {
	Query     string
	SessionID string
	Sections  []string
	Matchers  []string
	// PerSection 为 true 时对每个文档分别检索，再合并各文档的结果
	PerSection bool
}

// ChatService 定义了生成模式问答的接口。
type ChatService interface {
	Answer(ctx context.Context, req ChatRequest) (*model.AnswerResponse, error)
	StreamResponse(ctx context.Context, req ChatRequest, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	searchService SearchService
	conversations ConversationService
	llmClient     llm.Client
	prompt        config.LLMPromptConfig
	sections      []string
}

// NewChatService 创建一个新的 ChatService 实例。sections 为按文档检索时的默认文档顺序。
func NewChatService(searchService SearchService, conversations ConversationService, llmClient llm.Client, prompt config.LLMPromptConfig, sections []string) ChatService {
	return &chatService{
		searchService: searchService,
		conversations: conversations,
		llmClient:     llmClient,
		prompt:        prompt,
		sections:      sections,
	}
}

// Answer 协调 RAG 流程：检索、构建 system 消息、截断历史、调用 LLM，并记录本轮对话。
func (s *chatService) Answer(ctx context.Context, req ChatRequest) (*model.AnswerResponse, error) {
	msgs, result, formatter, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	answer, err := s.llmClient.ChatMessages(ctx, msgs, nil)
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 失败: %v", err)
		return nil, err
	}
	s.record(ctx, req, answer)

	formatted := formatter.Format(result)
	return &model.AnswerResponse{
		Answer:     answer,
		References: formatted.References,
		Sources:    formatted.Sources,
	}, nil
}

// errStreamStopped 由拦截器返回，用于在客户端停止后立即结束读取上游流。
var errStreamStopped = errors.New("stream stopped by client")

// StreamResponse 以 {"chunk": "..."} 分块推送回答，最后发送带引用的完成通知。
// 客户端停止时发送 status 为 "stopped" 的完成通知，不记录不完整的回答。
func (s *chatService) StreamResponse(ctx context.Context, req ChatRequest, ws llm.MessageWriter, shouldStop func() bool) error {
	msgs, result, formatter, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}

	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}
	err = s.llmClient.StreamChatMessages(ctx, msgs, nil, interceptor)
	stopped := errors.Is(err, errStreamStopped) || (shouldStop != nil && shouldStop())
	if stopped {
		log.Infof("[ChatService] 客户端停止了回答, 已生成 %d 字节", answerBuilder.Len())
		sendCompletion(ws, statusStopped, formatter.References(result))
		return nil
	}
	if err != nil {
		log.Errorf("[ChatService] 流式调用 LLM 失败: %v", err)
		return err
	}

	sendCompletion(ws, statusFinished, formatter.References(result))
	if answerBuilder.Len() > 0 {
		// 即使连接已断开，也保存已经生成的回答
		s.record(context.Background(), req, answerBuilder.String())
	}
	return nil
}

func (s *chatService) prepare(ctx context.Context, req ChatRequest) ([]llm.Message, retrieval.RankedResult, retrieval.Formatter, error) {
	formatter := s.searchService.Formatter()
	if strings.TrimSpace(req.Query) == "" {
		return nil, retrieval.RankedResult{}, formatter, retrieval.ErrEmptyQuery
	}

	var history []model.ChatMessage
	if req.SessionID != "" {
		var err error
		history, err = s.conversations.RecentHistory(ctx, req.SessionID)
		if err != nil {
			return nil, retrieval.RankedResult{}, formatter, err
		}
	}

	result, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, retrieval.RankedResult{}, formatter, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if req.PerSection {
		formatter.WithSection = true
	}
	log.Infof("[ChatService] 检索到 %d 个段落, 历史消息 %d 条", len(result.Items), len(history))

	systemMsg := s.buildSystemMessage(s.buildContextText(result, formatter))
	return composeMessages(systemMsg, history, req.Query), result, formatter, nil
}

func (s *chatService) retrieve(ctx context.Context, req ChatRequest) (retrieval.RankedResult, error) {
	search := SearchRequest{Query: req.Query, SessionID: req.SessionID, Sections: req.Sections, Matchers: req.Matchers}
	if !req.PerSection {
		return s.searchService.Retrieve(ctx, search)
	}
	sections := req.Sections
	if len(sections) == 0 {
		sections = s.sections
	}
	// 合并结果不再按 limit 截断：每个文档各保留自己的前 limit 条
	var merged retrieval.RankedResult
	for _, sec := range sections {
		search.Sections = []string{sec}
		result, err := s.searchService.Retrieve(ctx, search)
		if err != nil {
			return retrieval.RankedResult{}, err
		}
		merged.Items = append(merged.Items, result.Items...)
	}
	return merged, nil
}

// buildContextText 为每个段落生成带引用标签的上下文行。
func (s *chatService) buildContextText(result retrieval.RankedResult, formatter retrieval.Formatter) string {
	if !result.Found() {
		return ""
	}
	var b strings.Builder
	for i, item := range result.Items {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, formatter.Label(item.Passage), item.Passage.Content)
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	rules := s.prompt.Rules
	if rules == "" {
		rules = defaultRules
	}
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}
	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = defaultNoResultText
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}

func (s *chatService) record(ctx context.Context, req ChatRequest, answer string) {
	if req.SessionID == "" {
		return
	}
	if err := s.conversations.RecordExchange(ctx, req.SessionID, req.Query, answer, ModeGenerate); err != nil {
		// 回答已经返回给用户，这里只记录错误
		log.Errorf("[ChatService] 保存对话历史失败: %v", err)
	}
}

// wsWriterInterceptor 捕获写入的分块，并包装为 JSON 后转发。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		return errStreamStopped
	}
	w.writer.Write(data)
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

const (
	statusFinished = "finished"
	statusStopped  = "stopped"
)

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter, status string, references []string) {
	notif := map[string]interface{}{
		"type":       "completion",
		"status":     status,
		"references": references,
		"timestamp":  time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
