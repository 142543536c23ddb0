package chat

import (
	"context"
	"strings"
	"sync"

	"PPHub/logger"
	"PPHub/module/message"
	"PPHub/module/presence"
	"PPHub/service/metrics"
	"PPHub/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Indexer 已提交消息的异步转发，实现不得阻塞调用方
type Indexer interface {
	ForwardIndex(m message.Message)
}

// Handle 一条已建立的连接
type Handle struct {
	ConnID string `json:"connId"`
	UserID string `json:"userId"`
	Name   string `json:"userName"`
}

type SessionConf struct {
	NotifyLeave bool // 离开频道时通知其他成员
}

// session 单连接状态。join/leave/disconnect 取写锁，send/typing 取读锁，
// 因此断开会等待进行中的操作结束，之后的操作一律 NotConnected。
type session struct {
	mu     sync.RWMutex
	closed bool
	handle Handle
}

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	auth     Authenticator
	registry *presence.Registry
	conns    *ConnManager
	hub      *Hub
	store    message.Store
	indexer  Indexer
	metrics  *metrics.Metrics
	conf     SessionConf

	newID func() string
}

type SessionDeps struct {
	Auth     Authenticator
	Registry *presence.Registry
	Conns    *ConnManager
	Hub      *Hub
	Store    message.Store
	Indexer  Indexer // 可为 nil
	Metrics  *metrics.Metrics
}

func NewSessionManager(d SessionDeps, conf SessionConf) *SessionManager {
	if d.Auth == nil {
		d.Auth = PlainAuth{}
	}
	return &SessionManager{
		sessions: make(map[string]*session),
		auth:     d.Auth,
		registry: d.Registry,
		conns:    d.Conns,
		hub:      d.Hub,
		store:    d.Store,
		indexer:  d.Indexer,
		metrics:  d.Metrics,
		conf:     conf,
		newID:    uuid.NewString,
	}
}

func errNotConnected(connID string) error {
	return errs.ErrNotConnected.WrapMsg("connection is not live", "connId", connID)
}

// Authenticate 只校验，不改动任何状态
func (m *SessionManager) Authenticate(ctx context.Context, c Credentials) (Identity, error) {
	return m.auth.Authenticate(ctx, c)
}

// Connect 校验身份后登记连接，并向其他所有在线连接广播 online
func (m *SessionManager) Connect(ctx context.Context, c Credentials, sink Sink) (Handle, error) {
	id, err := m.auth.Authenticate(ctx, c)
	if err != nil {
		return Handle{}, err
	}
	return m.ConnectIdentity(ctx, id, sink)
}

// ConnectIdentity 身份已由调用方校验过（如握手升级前）。
// connected 在 sink 进入 ConnManager 之前入队，所以它总是该连接收到的第一帧。
func (m *SessionManager) ConnectIdentity(_ context.Context, id Identity, sink Sink) (Handle, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return Handle{}, errs.ErrAuthRejected.WrapMsg("userId is required")
	}
	if sink == nil {
		return Handle{}, errs.ErrInternal.WrapMsg("nil sink")
	}

	h := Handle{ConnID: m.newID(), UserID: id.UserID, Name: id.Name}
	if ws, ok := sink.(*WsConn); ok {
		ws.ConnID, ws.UserID = h.ConnID, h.UserID
	}
	hello, err := EncodeEvent(Event{Kind: KindConnected, Data: ConnectedPayload{ConnID: h.ConnID, UserID: h.UserID, Name: h.Name}})
	if err != nil {
		return Handle{}, errs.ErrInternal.WrapMsg(err.Error())
	}
	if err := sink.Deliver(hello); err != nil {
		return Handle{}, err
	}
	if err := m.conns.Add(h.ConnID, sink); err != nil {
		return Handle{}, err
	}
	if _, err := m.registry.Register(h.ConnID, h.UserID, h.Name); err != nil {
		m.conns.Remove(h.ConnID)
		return Handle{}, err
	}
	// 广播 online 之前持有会话锁，保证并发的 Disconnect 排在其后
	sess := &session{handle: h}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	m.mu.Lock()
	m.sessions[h.ConnID] = sess
	m.mu.Unlock()
	m.metrics.ConnOpened()
	m.metrics.Delivery("ok", 1)
	m.metrics.Event(string(KindConnected))

	m.hub.BroadcastAll(Event{Kind: KindPresence, Data: PresencePayload{UserID: h.UserID, Status: string(presence.Online)}}, h.ConnID)

	logger.Info("[Session] connected", zap.String("connId", h.ConnID), zap.String("user", h.UserID))
	return h, nil
}

// Disconnect 幂等；只有第一次调用会清理并广播 offline，返回是否由本次完成清理
func (m *SessionManager) Disconnect(connID string) bool {
	s := m.session(connID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true

	entry, _ := m.registry.Unregister(connID)
	for _, ch := range entry.Channels {
		m.hub.Leave(ch, connID)
	}
	sink, _ := m.conns.Remove(connID)
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
	m.metrics.ConnClosed()

	if sink != nil {
		sink.Close()
	}
	m.hub.BroadcastAll(Event{Kind: KindPresence, Data: PresencePayload{UserID: s.handle.UserID, Status: string(presence.Offline)}}, connID)

	logger.Info("[Session] disconnected",
		zap.String("connId", connID),
		zap.String("user", s.handle.UserID),
		zap.Strings("channels", entry.Channels))
	return true
}

// JoinChannel 加入频道，并把历史点对点推给该连接
func (m *SessionManager) JoinChannel(ctx context.Context, connID, channelID string) ([]message.Message, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("channelId is required")
	}
	s, err := m.lockSession(connID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	added, err := m.registry.Join(connID, channelID)
	if err != nil {
		return nil, err
	}
	var history []message.Message
	err = m.hub.Join(channelID, connID, func() error {
		var herr error
		history, herr = m.store.HistoryOf(ctx, channelID)
		if herr != nil {
			return herr
		}
		return m.hub.SendTo(connID, Event{Kind: KindChannelHistory, Channel: channelID, Data: history})
	})
	if err != nil {
		if added {
			_, _ = m.registry.Leave(connID, channelID)
		}
		return nil, err
	}
	return history, nil
}

// LeaveChannel 默认静默；NotifyLeave 打开时通知剩余成员
func (m *SessionManager) LeaveChannel(_ context.Context, connID, channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errs.ErrInvalidPayload.WrapMsg("channelId is required")
	}
	s, err := m.lockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, err := m.registry.Leave(connID, channelID); err != nil {
		return err
	}
	was := m.hub.Leave(channelID, connID)
	if was && m.conf.NotifyLeave {
		m.hub.Broadcast(channelID, Event{
			Kind:    KindMemberLeft,
			Channel: channelID,
			Data:    MemberLeftNotice{UserID: s.handle.UserID, ChannelID: channelID},
		}, connID)
	}
	return nil
}

// RelayTyping 发给频道内其他成员；丢失不算错误
func (m *SessionManager) RelayTyping(_ context.Context, connID, channelID string, isTyping bool) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errs.ErrInvalidPayload.WrapMsg("channelId is required")
	}
	s, err := m.rlockSession(connID)
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()

	m.hub.Broadcast(channelID, Event{
		Kind:    KindTyping,
		Channel: channelID,
		Data:    TypingNotice{UserID: s.handle.UserID, IsTyping: isTyping, ChannelID: channelID},
	}, connID)
	return nil
}

// SendMessage 写存储并广播（含发送者自己），随后异步转发到搜索。
// 不要求发送者已加入频道，只要求连接存活。
func (m *SessionManager) SendMessage(ctx context.Context, connID string, p SendPayload) (message.Message, error) {
	p.ChannelID = strings.TrimSpace(p.ChannelID)
	if p.ChannelID == "" {
		return message.Message{}, errs.ErrInvalidPayload.WrapMsg("channelId is required")
	}
	s, err := m.rlockSession(connID)
	if err != nil {
		return message.Message{}, err
	}
	defer s.mu.RUnlock()

	var stored message.Message
	rep, err := m.hub.Publish(p.ChannelID, "", func() (Event, error) {
		msg, aerr := m.store.Append(ctx, message.Draft{
			ChannelID: p.ChannelID,
			UserID:    s.handle.UserID,
			Content:   p.Content,
			Type:      p.Type,
			Metadata:  p.Metadata,
		})
		if aerr != nil {
			return Event{}, aerr
		}
		stored = msg
		return Event{Kind: KindNewMessage, Channel: p.ChannelID, Data: msg}, nil
	})
	if err != nil {
		return message.Message{}, err
	}
	if len(rep.Failed) > 0 {
		logger.Debug("[Session] partial fan-out",
			zap.String("msgId", stored.ID),
			zap.Int("delivered", len(rep.Delivered)),
			zap.Int("failed", len(rep.Failed)))
	}
	if m.indexer != nil {
		m.indexer.ForwardIndex(stored)
	}
	return stored, nil
}

// History 给 HTTP 等带外调用方使用
func (m *SessionManager) History(ctx context.Context, channelID string) ([]message.Message, error) {
	return m.store.HistoryOf(ctx, channelID)
}

func (m *SessionManager) Lookup(connID string) (Handle, bool) {
	s := m.session(connID)
	if s == nil {
		return Handle{}, false
	}
	return s.handle, true
}

// DisconnectAll 进程退出时调用
func (m *SessionManager) DisconnectAll() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	n := 0
	for _, id := range ids {
		if m.Disconnect(id) {
			n++
		}
	}
	return n
}

func (m *SessionManager) session(connID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connID]
}

func (m *SessionManager) lockSession(connID string) (*session, error) {
	s := m.session(connID)
	if s == nil {
		return nil, errNotConnected(connID)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errNotConnected(connID)
	}
	return s, nil
}

func (m *SessionManager) rlockSession(connID string) (*session, error) {
	s := m.session(connID)
	if s == nil {
		return nil, errNotConnected(connID)
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errNotConnected(connID)
	}
	return s, nil
}
