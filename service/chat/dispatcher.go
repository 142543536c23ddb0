package chat

import (
	"context"

	"PPHub/service/metrics"
	"PPHub/tools/errs"
)

// Context 一帧处理时可见的连接信息
type Context struct {
	context.Context
	ConnID string
	UserID string
}

// HandlerFunc 返回值作为 ack 的 data
type HandlerFunc func(ctx *Context, f *Frame) (any, error)

type Dispatcher struct {
	handlers map[Kind]HandlerFunc
	metrics  *metrics.Metrics
}

func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]HandlerFunc), metrics: m}
}

func (d *Dispatcher) Register(kind Kind, h HandlerFunc) { d.handlers[kind] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame) (any, error) {
	h, ok := d.handlers[f.Event]
	if !ok {
		d.metrics.Frame("unknown", "error")
		return nil, errs.ErrInvalidPayload.WrapMsg("unknown event", "event", string(f.Event))
	}
	out, err := h(ctx, f)
	if err != nil {
		d.metrics.Frame(string(f.Event), "error")
		return nil, err
	}
	d.metrics.Frame(string(f.Event), "ok")
	return out, nil
}

// RegisterSession 把上行事件接到 SessionManager
func (d *Dispatcher) RegisterSession(sm *SessionManager) {
	d.Register(KindJoinChannel, func(ctx *Context, f *Frame) (any, error) {
		p, err := DecodePayload[JoinPayload](f)
		if err != nil {
			return nil, err
		}
		history, err := sm.JoinChannel(ctx, ctx.ConnID, p.ChannelID)
		if err != nil {
			return nil, err
		}
		return JoinResult{ChannelID: p.ChannelID, History: len(history)}, nil
	})
	d.Register(KindLeaveChannel, func(ctx *Context, f *Frame) (any, error) {
		p, err := DecodePayload[LeavePayload](f)
		if err != nil {
			return nil, err
		}
		return nil, sm.LeaveChannel(ctx, ctx.ConnID, p.ChannelID)
	})
	d.Register(KindSendMessage, func(ctx *Context, f *Frame) (any, error) {
		p, err := DecodePayload[SendPayload](f)
		if err != nil {
			return nil, err
		}
		msg, err := sm.SendMessage(ctx, ctx.ConnID, *p)
		if err != nil {
			return nil, err
		}
		return msg, nil
	})
	d.Register(KindTyping, func(ctx *Context, f *Frame) (any, error) {
		p, err := DecodePayload[TypingPayload](f)
		if err != nil {
			return nil, err
		}
		return nil, sm.RelayTyping(ctx, ctx.ConnID, p.ChannelID, p.IsTyping)
	})
}
