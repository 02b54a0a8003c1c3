// Package model 包含了应用的数据模型定义。
package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage 代表会话中的单条消息（一个对话轮次）。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidTurnRole 判断角色是否可以写入会话日志。
func ValidTurnRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Conversation 代表归档到 MySQL 的一次问答交互。
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:varchar(64);index;not null" json:"sessionId"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	Mode      string    `gorm:"type:varchar(16)" json:"mode"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}
