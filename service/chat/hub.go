package chat

import (
	"sort"
	"sync"

	"PPHub/logger"
	"PPHub/service/metrics"

	"go.uber.org/zap"
)

// channel 单个频道的成员集合。
// 成员变更与广播都在 mu 下进行，广播看到的是开始时刻的成员快照。
type channel struct {
	mu      sync.Mutex
	members map[string]struct{}
	dead    bool // 已清空并从 Hub 摘除，拿到它的人需要重新查找
}

// Report 一次广播的投递结果
type Report struct {
	Delivered []string
	Failed    []string
}

func (r Report) Total() int { return len(r.Delivered) + len(r.Failed) }

// Hub channelId -> 成员。锁顺序：h.mu 先于 ch.mu，且从不在持有 ch.mu 时获取 h.mu。
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel

	conns   *ConnManager
	metrics *metrics.Metrics
}

func NewHub(conns *ConnManager, m *metrics.Metrics) *Hub {
	return &Hub{
		channels: make(map[string]*channel),
		conns:    conns,
		metrics:  m,
	}
}

// acquire 返回已加锁且存活的频道；create=false 且不存在时返回 nil
func (h *Hub) acquire(id string, create bool) *channel {
	for {
		h.mu.Lock()
		ch := h.channels[id]
		if ch == nil {
			if !create {
				h.mu.Unlock()
				return nil
			}
			ch = &channel{members: make(map[string]struct{})}
			h.channels[id] = ch
			h.metrics.SetChannels(len(h.channels))
		}
		h.mu.Unlock()

		ch.mu.Lock()
		if !ch.dead {
			return ch
		}
		ch.mu.Unlock()
		h.drop(id, ch)
	}
}

// release 解锁；成员为空时摘除频道
func (h *Hub) release(id string, ch *channel) {
	empty := len(ch.members) == 0
	if empty {
		ch.dead = true
	}
	ch.mu.Unlock()
	if empty {
		h.drop(id, ch)
	}
}

func (h *Hub) drop(id string, ch *channel) {
	h.mu.Lock()
	if h.channels[id] == ch {
		delete(h.channels, id)
		h.metrics.SetChannels(len(h.channels))
	}
	h.mu.Unlock()
}

// Join 加入频道。onJoined 在同一临界区内执行（例如推送历史），
// 这样历史与之后的实时消息之间既不重复也不遗漏；它返回错误时回滚成员关系。
func (h *Hub) Join(channelID, connID string, onJoined func() error) error {
	ch := h.acquire(channelID, true)
	_, existed := ch.members[connID]
	ch.members[connID] = struct{}{}
	if onJoined != nil {
		if err := onJoined(); err != nil {
			if !existed {
				delete(ch.members, connID)
			}
			h.release(channelID, ch)
			return err
		}
	}
	h.release(channelID, ch)
	return nil
}

// Leave 返回该连接之前是否在频道内
func (h *Hub) Leave(channelID, connID string) bool {
	ch := h.acquire(channelID, false)
	if ch == nil {
		return false
	}
	_, ok := ch.members[connID]
	delete(ch.members, connID)
	h.release(channelID, ch)
	return ok
}

// MembersOf 只读快照（排序）
func (h *Hub) MembersOf(channelID string) []string {
	ch := h.acquire(channelID, false)
	if ch == nil {
		return []string{}
	}
	out := make([]string, 0, len(ch.members))
	for id := range ch.members {
		out = append(out, id)
	}
	h.release(channelID, ch)
	sort.Strings(out)
	return out
}

// Channels 当前有成员的频道
func (h *Hub) Channels() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.channels))
	for id := range h.channels {
		out = append(out, id)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// Broadcast 发给频道内除 exclude 外的所有成员。单个成员失败不影响其他成员。
func (h *Hub) Broadcast(channelID string, ev Event, exclude string) Report {
	ch := h.acquire(channelID, false)
	if ch == nil {
		return Report{}
	}
	defer h.release(channelID, ch)

	payload, err := EncodeEvent(ev)
	if err != nil {
		logger.Error("[Hub] encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return Report{}
	}
	return h.fanout(ch, channelID, ev.Kind, payload, exclude)
}

// Publish 在频道临界区内先执行 build（通常是写存储），成功后立即广播。
// build 失败则不广播；同频道的两次 Publish 不会交错。
func (h *Hub) Publish(channelID string, exclude string, build func() (Event, error)) (Report, error) {
	ch := h.acquire(channelID, true)
	defer h.release(channelID, ch)

	ev, err := build()
	if err != nil {
		return Report{}, err
	}
	payload, err := EncodeEvent(ev)
	if err != nil {
		// 已写入存储，编码失败只能记录
		logger.Error("[Hub] encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return Report{}, nil
	}
	return h.fanout(ch, channelID, ev.Kind, payload, exclude), nil
}

// fanout 调用方持有 ch.mu
func (h *Hub) fanout(ch *channel, channelID string, kind Kind, payload []byte, exclude string) Report {
	var rep Report
	for id := range ch.members {
		if id == exclude {
			continue
		}
		sink, ok := h.conns.Get(id)
		if !ok {
			rep.Failed = append(rep.Failed, id)
			h.metrics.Delivery("missing", 1)
			continue
		}
		if err := sink.Deliver(payload); err != nil {
			rep.Failed = append(rep.Failed, id)
			h.metrics.Delivery("dropped", 1)
			logger.Warn("[Hub] delivery failed",
				zap.String("channel", channelID),
				zap.String("connId", id),
				zap.String("kind", string(kind)),
				zap.Error(err))
			continue
		}
		rep.Delivered = append(rep.Delivered, id)
	}
	h.metrics.Delivery("ok", len(rep.Delivered))
	h.metrics.Event(string(kind))
	return rep
}

// BroadcastAll 全局广播（presence），不区分频道
func (h *Hub) BroadcastAll(ev Event, exclude string) Report {
	payload, err := EncodeEvent(ev)
	if err != nil {
		logger.Error("[Hub] encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return Report{}
	}
	var rep Report
	for _, t := range h.conns.snapshot(exclude) {
		if err := t.sink.Deliver(payload); err != nil {
			rep.Failed = append(rep.Failed, t.connID)
			h.metrics.Delivery("dropped", 1)
			logger.Debug("[Hub] global delivery failed", zap.String("connId", t.connID), zap.Error(err))
			continue
		}
		rep.Delivered = append(rep.Delivered, t.connID)
	}
	h.metrics.Delivery("ok", len(rep.Delivered))
	h.metrics.Event(string(ev.Kind))
	return rep
}

// SendTo 点对点
func (h *Hub) SendTo(connID string, ev Event) error {
	sink, ok := h.conns.Get(connID)
	if !ok {
		return errNotConnected(connID)
	}
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := sink.Deliver(payload); err != nil {
		h.metrics.Delivery("dropped", 1)
		return err
	}
	h.metrics.Delivery("ok", 1)
	h.metrics.Event(string(ev.Kind))
	return nil
}
