package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"byggassistent/internal/model"
	"byggassistent/internal/repository"
	"byggassistent/pkg/log"
	"byggassistent/pkg/tasks"
)

// ArchiveService 消费归档事件并写入 MySQL，实现了 kafka.TaskProcessor。
type ArchiveService struct {
	repo repository.ConversationArchiveRepository
}

// NewArchiveService 创建一个新的 ArchiveService。
func NewArchiveService(repo repository.ConversationArchiveRepository) *ArchiveService {
	return &ArchiveService{repo: repo}
}

// Process 保存一次问答交互。
func (s *ArchiveService) Process(ctx context.Context, task tasks.TurnArchiveTask) error {
	if strings.TrimSpace(task.SessionID) == "" {
		return errors.New("archive task without session id")
	}
	conv := &model.Conversation{
		SessionID: task.SessionID,
		Question:  task.Question,
		Answer:    task.Answer,
		Mode:      task.Mode,
		CreatedAt: task.CreatedAt,
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		log.Errorf("[ArchiveService] 归档失败, sessionID: %s, error: %v", task.SessionID, err)
		return fmt.Errorf("failed to archive exchange: %w", err)
	}
	log.Debugf("[ArchiveService] 归档成功, sessionID: %s, id: %d", task.SessionID, conv.ID)
	return nil
}

// History 返回会话最近 limit 条归档记录。
func (s *ArchiveService) History(ctx context.Context, sessionID string, limit int) ([]model.Conversation, error) {
	return s.repo.FindBySessionID(ctx, sessionID, limit)
}
