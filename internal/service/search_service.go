// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"strings"

	"byggassistent/internal/retrieval"
	"byggassistent/pkg/log"
)

const (
	ModeSnippet  = "snippet"
	ModeGenerate = "generate"
)

// SearchRequest 是一次检索请求。SessionID 为空时不读写会话。
type SearchRequest struct {
	Query     string
	SessionID string
	Sections  []string
	Matchers  []string
}

// SearchService 接口定义了搜索操作。
type SearchService interface {
	// Ask 执行片段模式问答：检索、格式化摘要，并记录到会话
	Ask(ctx context.Context, req SearchRequest) (retrieval.Answer, error)
	// Retrieve 只执行检索，多轮对话中用最近的提问补全语义查询
	Retrieve(ctx context.Context, req SearchRequest) (retrieval.RankedResult, error)
	Formatter() retrieval.Formatter
}

type searchService struct {
	engine        *retrieval.Engine
	conversations ConversationService
	formatter     retrieval.Formatter
	contextTurns  int
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(engine *retrieval.Engine, conversations ConversationService, formatter retrieval.Formatter, contextTurns int) SearchService {
	return &searchService{
		engine:        engine,
		conversations: conversations,
		formatter:     formatter,
		contextTurns:  contextTurns,
	}
}

func (s *searchService) Formatter() retrieval.Formatter { return s.formatter }

func (s *searchService) Ask(ctx context.Context, req SearchRequest) (retrieval.Answer, error) {
	log.Infof("[SearchService] 收到问题, query: '%s', sessionID: %s", req.Query, req.SessionID)
	result, err := s.Retrieve(ctx, req)
	if err != nil {
		return retrieval.Answer{}, err
	}
	answer := s.formatter.Format(result)
	if req.SessionID != "" {
		if err := s.conversations.RecordExchange(ctx, req.SessionID, req.Query, answer.Summary, ModeSnippet); err != nil {
			return retrieval.Answer{}, err
		}
	}
	log.Infof("[SearchService] 检索完成, query: '%s', 结果数: %d", req.Query, len(result.Items))
	return answer, nil
}

func (s *searchService) Retrieve(ctx context.Context, req SearchRequest) (retrieval.RankedResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return retrieval.RankedResult{}, retrieval.ErrEmptyQuery
	}
	q := retrieval.Query{Text: req.Query, Sections: req.Sections, Matchers: req.Matchers}
	if req.SessionID != "" {
		questions, err := s.conversations.RecentQuestions(ctx, req.SessionID, s.contextTurns)
		if err != nil {
			return retrieval.RankedResult{}, err
		}
		q.Context = strings.Join(questions, "\n")
	}
	result, err := s.engine.Search(ctx, q)
	if err != nil {
		log.Warnf("[SearchService] 检索失败, query: '%s', error: %v", req.Query, err)
		return retrieval.RankedResult{}, err
	}
	return result, nil
}
