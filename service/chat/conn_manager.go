package chat

import (
	"sync"

	"PPHub/tools/errs"
)

// ConnManager connId -> 传输句柄的弱引用表。
// 只做查找，不决定连接是否存活（那是 presence.Registry 的事）。
type ConnManager struct {
	mu   sync.RWMutex
	byID map[string]Sink
}

type target struct {
	connID string
	sink   Sink
}

func NewConnManager() *ConnManager {
	return &ConnManager{byID: make(map[string]Sink)}
}

func (m *ConnManager) Add(connID string, s Sink) error {
	if connID == "" || s == nil {
		return errs.ErrInternal.WrapMsg("connId/sink empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[connID]; exists {
		return errs.ErrInternal.WrapMsg("connId exists", "connId", connID)
	}
	m.byID[connID] = s
	return nil
}

// Remove 只移除索引，不关闭 sink
func (m *ConnManager) Remove(connID string) (Sink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[connID]
	if ok {
		delete(m.byID, connID)
	}
	return s, ok
}

func (m *ConnManager) Get(connID string) (Sink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[connID]
	return s, ok
}

// snapshot 除 exclude 外的全部连接
func (m *ConnManager) snapshot(exclude string) []target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]target, 0, len(m.byID))
	for id, s := range m.byID {
		if id == exclude {
			continue
		}
		out = append(out, target{connID: id, sink: s})
	}
	return out
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
