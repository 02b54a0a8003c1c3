// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"byggassistent/internal/model"

	"github.com/go-redis/redis/v8"
)

// ErrSessionNotFound 表示会话不存在或已过期。
var ErrSessionNotFound = errors.New("session not found")

// ConversationRepository 定义了会话日志的操作接口。同一会话的追加按到达顺序串行化。
type ConversationRepository interface {
	CreateSession(ctx context.Context, sessionID string) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	// AppendTurn 原子地追加一条或多条消息
	AppendTurn(ctx context.Context, sessionID string, msgs ...model.ChatMessage) error
	// GetHistory 返回最近 last 条消息（按时间顺序），last <= 0 时返回全部
	GetHistory(ctx context.Context, sessionID string, last int) ([]model.ChatMessage, error)
	// Reset 清空会话日志，会话本身保留
	Reset(ctx context.Context, sessionID string) error
}

// StoreOptions 控制会话日志的保留策略。
type StoreOptions struct {
	// RetainTurns 为单个会话保存的最大消息数，0 表示不限制
	RetainTurns int
	// TTL 为会话空闲多久后过期，0 表示永不过期
	TTL time.Duration
}

// ---- redis ----

type redisConversationRepository struct {
	redisClient *redis.Client
	opts        StoreOptions
}

// NewRedisConversationRepository 创建基于 Redis 列表的会话存储。
func NewRedisConversationRepository(redisClient *redis.Client, opts StoreOptions) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, opts: opts}
}

func metaKey(sessionID string) string  { return fmt.Sprintf("session:%s:meta", sessionID) }
func turnsKey(sessionID string) string { return fmt.Sprintf("session:%s:turns", sessionID) }

func (r *redisConversationRepository) CreateSession(ctx context.Context, sessionID string) error {
	created := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.redisClient.SetNX(ctx, metaKey(sessionID), created, r.opts.TTL).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// AppendTurn 在一个 MULTI 事务中完成 RPUSH、LTRIM 与续期。
func (r *redisConversationRepository) AppendTurn(ctx context.Context, sessionID string, msgs ...model.ChatMessage) error {
	if err := r.mustExist(ctx, sessionID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		values = append(values, data)
	}
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, turnsKey(sessionID), values...)
	if r.opts.RetainTurns > 0 {
		pipe.LTrim(ctx, turnsKey(sessionID), int64(-r.opts.RetainTurns), -1)
	}
	if r.opts.TTL > 0 {
		pipe.Expire(ctx, turnsKey(sessionID), r.opts.TTL)
		pipe.Expire(ctx, metaKey(sessionID), r.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) GetHistory(ctx context.Context, sessionID string, last int) ([]model.ChatMessage, error) {
	if err := r.mustExist(ctx, sessionID); err != nil {
		return nil, err
	}
	start := int64(0)
	if last > 0 {
		start = int64(-last)
	}
	items, err := r.redisClient.LRange(ctx, turnsKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *redisConversationRepository) Reset(ctx context.Context, sessionID string) error {
	if err := r.mustExist(ctx, sessionID); err != nil {
		return err
	}
	pipe := r.redisClient.TxPipeline()
	pipe.Del(ctx, turnsKey(sessionID))
	if r.opts.TTL > 0 {
		pipe.Expire(ctx, metaKey(sessionID), r.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) mustExist(ctx context.Context, sessionID string) error {
	ok, err := r.SessionExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// ---- memory ----

type memorySession struct {
	mu      sync.Mutex
	turns   []model.ChatMessage
	touched time.Time
}

// MemoryConversationRepository 是进程内的会话存储，每个会话持有自己的锁。
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	opts     StoreOptions
	now      func() time.Time
}

// NewMemoryConversationRepository 创建进程内会话存储。
func NewMemoryConversationRepository(opts StoreOptions) *MemoryConversationRepository {
	return &MemoryConversationRepository{
		sessions: make(map[string]*memorySession),
		opts:     opts,
		now:      time.Now,
	}
}

func (r *MemoryConversationRepository) CreateSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok && !r.expired(s) {
		return nil
	}
	r.sessions[sessionID] = &memorySession{touched: r.now()}
	return nil
}

func (r *MemoryConversationRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	_, err := r.session(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *MemoryConversationRepository) AppendTurn(ctx context.Context, sessionID string, msgs ...model.ChatMessage) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, msgs...)
	if n := r.opts.RetainTurns; n > 0 && len(s.turns) > n {
		s.turns = append([]model.ChatMessage(nil), s.turns[len(s.turns)-n:]...)
	}
	s.touched = r.now()
	return nil
}

func (r *MemoryConversationRepository) GetHistory(ctx context.Context, sessionID string, last int) ([]model.ChatMessage, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns
	if last > 0 && len(turns) > last {
		turns = turns[len(turns)-last:]
	}
	out := make([]model.ChatMessage, len(turns))
	copy(out, turns)
	return out, nil
}

func (r *MemoryConversationRepository) Reset(ctx context.Context, sessionID string) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.touched = r.now()
	return nil
}

// Sweep 删除所有已过期的会话，返回删除数量。
func (r *MemoryConversationRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

func (r *MemoryConversationRepository) session(sessionID string) (*memorySession, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok || r.expired(s) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryConversationRepository) expired(s *memorySession) bool {
	if r.opts.TTL <= 0 {
		return false
	}
	s.mu.Lock()
	touched := s.touched
	s.mu.Unlock()
	return r.now().Sub(touched) > r.opts.TTL
}
