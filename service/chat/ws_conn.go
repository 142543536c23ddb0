package chat

import (
	"net"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Sink 传输层句柄：只负责把已编码的帧送出去。
// Deliver 必须是有界的非阻塞尝试，失败即放弃，不重试。
type Sink interface {
	Deliver(payload []byte) error
	Close()
}

// ---- 常量参数（建议值） ----
const (
	defaultSendQueue  = 256
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultMaxMsgSize = 64 * 1024
)

type ConnConf struct {
	SendQueue      int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration // 必须小于 PongWait
	MaxMessageSize int64
}

func (c *ConnConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMsgSize
	}
}

// WsConn 一条 websocket 连接：独立发送队列 + 单写协程
type WsConn struct {
	ConnID    string
	UserID    string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	conf ConnConf
	send chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewWsConn(ws *websocket.Conn, conf ConnConf) *WsConn {
	conf.norm()
	c := &WsConn{
		Conn:      ws,
		CreatedAt: time.Now(),
		conf:      conf,
		send:      make(chan []byte, conf.SendQueue),
		done:      make(chan struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

// Deliver 入队；队列满或已关闭立即返回错误
func (c *WsConn) Deliver(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errs.ErrNotConnected.WrapMsg("conn closed", "connId", c.ConnID)
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errs.ErrDeliveryFailure.WrapMsg("send queue full", "connId", c.ConnID)
	}
}

// Close 可重复调用；写协程收到信号后发 Close 帧并关闭底层连接
func (c *WsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *WsConn) Done() <-chan struct{} { return c.done }

// PrepareRead 读侧限制与心跳续期
func (c *WsConn) PrepareRead() {
	c.Conn.SetReadLimit(c.conf.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})
}

// WritePump 唯一的写协程：业务帧优先，其次定时 ping
func (c *WsConn) WritePump() {
	ticker := time.NewTicker(c.conf.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
		_ = c.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.Conn.Close()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				logger.Debug("[WS] write payload err", zap.String("connId", c.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				logger.Debug("[WS] ping err", zap.String("connId", c.ConnID), zap.Error(err))
				return
			}
		case <-c.done:
			// 关闭前把已入队的帧尽量写完
			for {
				select {
				case payload := <-c.send:
					if err := c.write(payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *WsConn) write(payload []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.conf.WriteWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}
