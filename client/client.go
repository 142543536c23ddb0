// Package client 是 PPHub 的 Go SDK：一条 WebSocket 连接收发事件，历史与检索走 HTTP。
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PPHub/module/message"
	"PPHub/service/chat"
	"PPHub/tools/errs"

	"github.com/gorilla/websocket"
)

type Config struct {
	// BaseURL 服务地址，如 http://127.0.0.1:9090
	BaseURL    string
	Token      string // 非空时握手和 HTTP 都带上
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	AckTimeout time.Duration // <=0 默认 5s
}

type Client struct {
	cfg  Config
	base *url.URL

	conn    *websocket.Conn
	writeMu sync.Mutex

	info      chat.ConnectedPayload
	connected chan struct{}

	mu      sync.Mutex
	subs    map[chat.Kind][]*Subscription
	pending map[string]chan *chat.Frame
	seq     atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("bad base url", "url", cfg.BaseURL)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	return &Client{
		cfg:       cfg,
		base:      base,
		connected: make(chan struct{}),
		subs:      make(map[chat.Kind][]*Subscription),
		pending:   make(map[string]chan *chat.Frame),
		done:      make(chan struct{}),
	}, nil
}

func (c *Client) wsURL(userID, userName string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/chat/ws"
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("userName", userName)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect 握手并等到 connected 事件；一个 Client 只能连接一次
func (c *Client) Connect(ctx context.Context, userID, userName string) (chat.ConnectedPayload, error) {
	if c.conn != nil {
		return chat.ConnectedPayload{}, errs.New("client already connected")
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.wsURL(userID, userName), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return chat.ConnectedPayload{}, errs.ErrAuthRejected.WrapMsg("handshake rejected", "userId", userID)
		}
		return chat.ConnectedPayload{}, errs.WrapMsg(err, "dial", "userId", userID)
	}
	c.conn = conn
	go c.readLoop()

	select {
	case <-c.connected:
		return c.info, nil
	case <-c.done:
		return chat.ConnectedPayload{}, c.closedErr()
	case <-ctx.Done():
		c.Disconnect()
		return chat.ConnectedPayload{}, ctx.Err()
	}
}

// Disconnect 可重复调用
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = c.conn.Close()
		}
		close(c.done)
	})
}

// Done 连接结束（主动或被动）后关闭
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return errs.ErrNotConnected.WrapMsg(c.readErr.Error())
	}
	return errs.ErrNotConnected.Wrap()
}

func (c *Client) readLoop() {
	defer c.Disconnect()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		var f chat.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		c.route(&f)
	}
}

func (c *Client) route(f *chat.Frame) {
	switch f.Event {
	case chat.KindAck:
		c.mu.Lock()
		ch, ok := c.pending[f.AckID]
		delete(c.pending, f.AckID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	case chat.KindConnected:
		select {
		case <-c.connected:
		default:
			_ = json.Unmarshal(f.Data, &c.info)
			close(c.connected)
		}
	}
	c.emit(f)
}

func (c *Client) write(f chat.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return errs.WrapMsg(err, "marshal frame")
	}
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errs.ErrNotConnected.WrapMsg(err.Error())
	}
	return nil
}

// request 带 ackId 发送并等待回执
func (c *Client) request(ctx context.Context, kind chat.Kind, payload any) (*chat.Frame, error) {
	if c.conn == nil {
		return nil, errs.ErrNotConnected.WrapMsg("not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal payload")
	}
	ackID := strconv.FormatUint(c.seq.Add(1), 10)
	wait := make(chan *chat.Frame, 1)
	c.mu.Lock()
	c.pending[ackID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.write(chat.Frame{Event: kind, AckID: ackID, Data: data}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case f := <-wait:
		if f.OK != nil && !*f.OK {
			if f.Error != nil {
				return nil, *f.Error
			}
			return nil, errs.ErrInternal.WithDetail("request failed")
		}
		return f, nil
	case <-timer.C:
		return nil, errs.New("ack timeout", "event", string(kind), "ackId", ackID)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr()
	}
}

func (c *Client) JoinChannel(ctx context.Context, channelID string) (chat.JoinResult, error) {
	var res chat.JoinResult
	f, err := c.request(ctx, chat.KindJoinChannel, chat.JoinPayload{ChannelID: channelID})
	if err != nil {
		return res, err
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &res); err != nil {
			return res, errs.WrapMsg(err, "decode join result")
		}
	}
	return res, nil
}

func (c *Client) LeaveChannel(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, chat.KindLeaveChannel, chat.LeavePayload{ChannelID: channelID})
	return err
}

// SendMessage typ 为空时按 "text" 发送
func (c *Client) SendMessage(ctx context.Context, channelID, content, typ string, metadata map[string]any) (message.Message, error) {
	var m message.Message
	if typ == "" {
		typ = message.DefaultType
	}
	f, err := c.request(ctx, chat.KindSendMessage, chat.SendPayload{
		ChannelID: channelID,
		Content:   content,
		Type:      typ,
		Metadata:  metadata,
	})
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return m, errs.WrapMsg(err, "decode message")
	}
	return m, nil
}

func (c *Client) SetTyping(ctx context.Context, channelID string, isTyping bool) error {
	_, err := c.request(ctx, chat.KindTyping, chat.TypingPayload{ChannelID: channelID, IsTyping: isTyping})
	return err
}
