package presence

import (
	"sort"
	"sync"
	"time"

	"PPHub/tools/errs"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Entry 一条在线连接的快照
type Entry struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Channels    []string  `json:"channels"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type conn struct {
	id          string
	userID      string
	displayName string
	channels    map[string]struct{}
	connectedAt time.Time
}

func (c *conn) snapshot() Entry {
	chs := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		chs = append(chs, ch)
	}
	sort.Strings(chs)
	return Entry{
		ConnID:      c.id,
		UserID:      c.userID,
		DisplayName: c.displayName,
		Channels:    chs,
		ConnectedAt: c.connectedAt,
	}
}

// Registry 在线状态的权威来源：connId 是否存活、加入了哪些频道。
// 传输层句柄只是按 connId 的弱引用查找，不归这里管理。
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*conn                // connId -> conn
	byUser map[string]map[string]struct{} // userId -> connIds

	mirror Mirror
	clock  func() time.Time
}

type Option func(*Registry)

// WithMirror 在线状态同步到外部（如 redis），只在用户首连/末断时调用。
// 回调在 Registry 锁内执行，实现必须非阻塞且不能回调 Registry。
func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

func WithClock(f func() time.Time) Option {
	return func(r *Registry) { r.clock = f }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byConn: make(map[string]*conn),
		byUser: make(map[string]map[string]struct{}),
		clock:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register 登记为在线；connId 重复时报错且不改动任何状态
func (r *Registry) Register(connID, userID, displayName string) (Entry, error) {
	if connID == "" || userID == "" {
		return Entry{}, errs.ErrAuthRejected.WrapMsg("connId/userId empty")
	}
	r.mu.Lock()
	if _, exists := r.byConn[connID]; exists {
		r.mu.Unlock()
		return Entry{}, errs.ErrInternal.WrapMsg("connId exists", "connId", connID)
	}
	c := &conn{
		id:          connID,
		userID:      userID,
		displayName: displayName,
		channels:    make(map[string]struct{}),
		connectedAt: r.clock(),
	}
	r.byConn[connID] = c
	set := r.byUser[userID]
	first := set == nil
	if first {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
	// 镜像入队不阻塞，在锁内提交以保证与状态变更同序
	if first && r.mirror != nil {
		r.mirror.Online(userID, connID)
	}
	snap := c.snapshot()
	r.mu.Unlock()
	return snap, nil
}

// Unregister 移除连接，返回移除前的快照（含已加入频道）。
// 不存在时返回 false，可重复调用。
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	c, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return Entry{}, false
	}
	delete(r.byConn, connID)
	last := false
	if set := r.byUser[c.userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, c.userID)
			last = true
		}
	}
	if last && r.mirror != nil {
		r.mirror.Offline(c.userID)
	}
	snap := c.snapshot()
	r.mu.Unlock()
	return snap, true
}

// Join 记录频道；连接不在线返回 NotConnected。返回是否新加入
func (r *Registry) Join(connID, channelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return false, errs.ErrNotConnected.WrapMsg("join", "connId", connID)
	}
	if _, in := c.channels[channelID]; in {
		return false, nil
	}
	c.channels[channelID] = struct{}{}
	return true, nil
}

// Leave 返回是否确实在该频道
func (r *Registry) Leave(connID, channelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return false, errs.ErrNotConnected.WrapMsg("leave", "connId", connID)
	}
	if _, in := c.channels[channelID]; !in {
		return false, nil
	}
	delete(c.channels, channelID)
	return true, nil
}

func (r *Registry) IsLive(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID]
	return ok
}

func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	return c.snapshot(), true
}

// Connections 所有在线 connId（排序后返回，便于比较）
func (r *Registry) Connections() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byConn))
	for id := range r.byConn {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// OnlineUsers 至少有一条在线连接的用户
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) StatusOf(userID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.byUser[userID]) > 0 {
		return Online
	}
	return Offline
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
