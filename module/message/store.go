package message

import (
	"context"
	"sync"
	"time"

	"PPHub/tools/errs"
	"PPHub/tools/ids"
)

// Store 频道消息的追加日志
type Store interface {
	Append(ctx context.Context, d Draft) (Message, error)
	HistoryOf(ctx context.Context, channelID string) ([]Message, error)
	Get(ctx context.Context, id string) (Message, bool)
}

// MemStore 进程内实现，不淘汰
type MemStore struct {
	mu        sync.RWMutex
	byChannel map[string][]*Message // channelId -> 按提交顺序
	byID      map[string]*Message   // id -> msg

	gen   *ids.Generator
	clock func() time.Time
}

type Option func(*MemStore)

// WithClock 注入时钟（单测用）
func WithClock(f func() time.Time) Option {
	return func(s *MemStore) { s.clock = f }
}

// WithNodeID 指定雪花节点号
func WithNodeID(node int64) Option {
	return func(s *MemStore) { s.gen = ids.NewGenerator(node) }
}

func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		byChannel: make(map[string][]*Message),
		byID:      make(map[string]*Message),
		gen:       ids.NewGenerator(1),
		clock:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append 校验必填字段，分配 ID/时间后写入。
// 同一频道内 createdAt 单调不减，历史顺序即提交顺序。
func (s *MemStore) Append(ctx context.Context, d Draft) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, errs.Wrap(err)
	}
	d.normalize()
	if d.ChannelID == "" {
		return Message{}, errs.ErrInvalidPayload.WrapMsg("channelId is required")
	}
	if d.UserID == "" {
		return Message{}, errs.ErrInvalidPayload.WrapMsg("userId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	list := s.byChannel[d.ChannelID]
	if n := len(list); n > 0 && now.Before(list[n-1].CreatedAt) {
		now = list[n-1].CreatedAt
	}

	m := &Message{
		ID:        s.gen.NextString(),
		ChannelID: d.ChannelID,
		UserID:    d.UserID,
		Content:   d.Content,
		Type:      d.Type,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  cloneMeta(d.Metadata),
	}
	s.byChannel[d.ChannelID] = append(list, m)
	s.byID[m.ID] = m
	return *m, nil
}

// HistoryOf 按创建时间升序返回；未知频道返回空切片
func (s *MemStore) HistoryOf(ctx context.Context, channelID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byChannel[channelID]
	out := make([]Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemStore) Get(_ context.Context, id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byID[id]; ok {
		return *m, true
	}
	return Message{}, false
}

// Len 已存消息总数
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
