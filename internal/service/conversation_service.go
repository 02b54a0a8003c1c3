// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"byggassistent/internal/model"
	"byggassistent/internal/repository"
	"byggassistent/pkg/log"
	"byggassistent/pkg/tasks"

	"github.com/google/uuid"
)

// ErrInvalidRole 表示追加的消息角色不是 user 或 assistant。
var ErrInvalidRole = errors.New("invalid turn role")

// DefaultMaxTurns 是传给生成模型的历史消息条数上限的默认值。
const DefaultMaxTurns = 10

// TurnPublisher 发布已完成的问答交互，*kafka.Producer 实现了该接口。
type TurnPublisher interface {
	ProduceTurnArchive(ctx context.Context, task tasks.TurnArchiveTask) error
}

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	CreateSession(ctx context.Context) (string, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	AppendTurn(ctx context.Context, sessionID, role, content string) error
	// RecordExchange 原子地追加一问一答，并在开启归档时发布归档事件
	RecordExchange(ctx context.Context, sessionID, question, answer, mode string) error
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// RecentHistory 返回最近 MaxTurns 条消息
	RecentHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// RecentQuestions 返回最近 n 条用户提问（按时间顺序）
	RecentQuestions(ctx context.Context, sessionID string, n int) ([]string, error)
	Reset(ctx context.Context, sessionID string) error
	MaxTurns() int
}

type conversationService struct {
	repo      repository.ConversationRepository
	maxTurns  int
	publisher TurnPublisher
	now       func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。publisher 为 nil 时不归档。
func NewConversationService(repo repository.ConversationRepository, maxTurns int, publisher TurnPublisher) ConversationService {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &conversationService{repo: repo, maxTurns: maxTurns, publisher: publisher, now: time.Now}
}

func (s *conversationService) MaxTurns() int { return s.maxTurns }

func (s *conversationService) CreateSession(ctx context.Context) (string, error) {
	sessionID := uuid.NewString()
	if err := s.repo.CreateSession(ctx, sessionID); err != nil {
		return "", err
	}
	log.Infof("[ConversationService] 新建会话, sessionID: %s", sessionID)
	return sessionID, nil
}

func (s *conversationService) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return s.repo.SessionExists(ctx, sessionID)
}

func (s *conversationService) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	if !model.ValidTurnRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.repo.AppendTurn(ctx, sessionID, model.ChatMessage{Role: role, Content: content, Timestamp: s.now().UTC()})
}

func (s *conversationService) RecordExchange(ctx context.Context, sessionID, question, answer, mode string) error {
	now := s.now().UTC()
	err := s.repo.AppendTurn(ctx, sessionID,
		model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: now},
	)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	if s.publisher != nil {
		task := tasks.TurnArchiveTask{SessionID: sessionID, Question: question, Answer: answer, Mode: mode, CreatedAt: now}
		if err := s.publisher.ProduceTurnArchive(ctx, task); err != nil {
			// 归档失败不影响本轮回答
			log.Warnf("[ConversationService] 发布归档事件失败, sessionID: %s, error: %v", sessionID, err)
		}
	}
	return nil
}

func (s *conversationService) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	return s.repo.GetHistory(ctx, sessionID, 0)
}

func (s *conversationService) RecentHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	return s.repo.GetHistory(ctx, sessionID, s.maxTurns)
}

func (s *conversationService) RecentQuestions(ctx context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	history, err := s.repo.GetHistory(ctx, sessionID, s.maxTurns)
	if err != nil {
		return nil, err
	}
	var questions []string
	for i := len(history) - 1; i >= 0 && len(questions) < n; i-- {
		if history[i].Role == model.RoleUser && strings.TrimSpace(history[i].Content) != "" {
			questions = append(questions, history[i].Content)
		}
	}
	for i, j := 0, len(questions)-1; i < j; i, j = i+1, j-1 {
		questions[i], questions[j] = questions[j], questions[i]
	}
	return questions, nil
}

func (s *conversationService) Reset(ctx context.Context, sessionID string) error {
	if err := s.repo.Reset(ctx, sessionID); err != nil {
		return err
	}
	log.Infof("[ConversationService] 会话已重置, sessionID: %s", sessionID)
	return nil
}
