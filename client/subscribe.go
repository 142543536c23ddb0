package client

import (
	"encoding/json"
	"sync/atomic"

	"PPHub/module/message"
	"PPHub/service/chat"
)

// Subscription 事件订阅；Cancel 后不会再被回调，可重复调用
type Subscription struct {
	c         *Client
	kind      chat.Kind
	fn        func(*chat.Frame)
	cancelled atomic.Bool
}

func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	list := s.c.subs[s.kind]
	for i, x := range list {
		if x == s {
			s.c.subs[s.kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(s.c.subs[s.kind]) == 0 {
		delete(s.c.subs, s.kind)
	}
}

// Subscribe 回调在读协程里按注册顺序串行执行，不要在回调里阻塞
func (c *Client) Subscribe(kind chat.Kind, fn func(*chat.Frame)) *Subscription {
	s := &Subscription{c: c, kind: kind, fn: fn}
	c.mu.Lock()
	c.subs[kind] = append(c.subs[kind], s)
	c.mu.Unlock()
	return s
}

func (c *Client) emit(f *chat.Frame) {
	c.mu.Lock()
	list := append([]*Subscription(nil), c.subs[f.Event]...)
	c.mu.Unlock()
	for _, s := range list {
		if s.cancelled.Load() {
			continue
		}
		s.fn(f)
	}
}

func (c *Client) OnMessage(fn func(message.Message)) *Subscription {
	return c.Subscribe(chat.KindNewMessage, func(f *chat.Frame) {
		var m message.Message
		if json.Unmarshal(f.Data, &m) == nil {
			fn(m)
		}
	})
}

func (c *Client) OnUserStatus(fn func(chat.PresencePayload)) *Subscription {
	return c.Subscribe(chat.KindPresence, func(f *chat.Frame) {
		var p chat.PresencePayload
		if json.Unmarshal(f.Data, &p) == nil {
			fn(p)
		}
	})
}

func (c *Client) OnTyping(fn func(chat.TypingNotice)) *Subscription {
	return c.Subscribe(chat.KindTyping, func(f *chat.Frame) {
		var n chat.TypingNotice
		if json.Unmarshal(f.Data, &n) == nil {
			fn(n)
		}
	})
}

// OnHistory 加入频道后服务端推送的历史
func (c *Client) OnHistory(fn func(channelID string, msgs []message.Message)) *Subscription {
	return c.Subscribe(chat.KindChannelHistory, func(f *chat.Frame) {
		var msgs []message.Message
		if json.Unmarshal(f.Data, &msgs) == nil {
			fn(f.Channel, msgs)
		}
	})
}
