package repository

import (
	"context"

	"byggassistent/internal/model"

	"gorm.io/gorm"
)

// ConversationArchiveRepository 定义了对 conversations 归档表的数据操作接口。
type ConversationArchiveRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	// FindBySessionID 按时间顺序返回会话最近 limit 条归档记录，limit <= 0 时返回全部
	FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Conversation, error)
}

type conversationArchiveRepository struct {
	db *gorm.DB
}

// NewConversationArchiveRepository 创建一个新的 ConversationArchiveRepository 实例。
func NewConversationArchiveRepository(db *gorm.DB) ConversationArchiveRepository {
	return &conversationArchiveRepository{db: db}
}

func (r *conversationArchiveRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationArchiveRepository) FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(convs)-1; i < j; i, j = i+1, j-1 {
		convs[i], convs[j] = convs[j], convs[i]
	}
	return convs, nil
}
