package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"PPHub/tools/errs"

	"github.com/nats-io/nats.go"
)

const HeaderMsgID = "Nats-Msg-Id"

// Producer 按 biz 路由发送；Retries>0 时失败按 Backoff 重试
type Producer struct {
	c       *Client
	Retries int
	Backoff time.Duration
}

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrInternal.WrapMsg("route not found", "biz", biz)
	}
	var err error
	for i := 0; i <= p.Retries; i++ {
		if err = p.send(ctx, r, data, hdr); err == nil {
			return nil
		}
		if i == p.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff):
		}
	}
	return err
}

// PublishOnce 带 Nats-Msg-Id，JetStream 据此去重；msgID 为空时随机生成
func (p *Producer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = genMsgID()
	}
	h[HeaderMsgID] = msgID
	return p.Publish(ctx, biz, data, h)
}

func (p *Producer) send(ctx context.Context, r Route, data []byte, hdr map[string]string) error {
	msg := newMsg(r.Subject, data, hdr)
	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return errs.WrapMsg(err, "publish", "subject", r.Subject)
		}
		return nil
	case JetStreamPush:
		if _, err := p.c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return errs.WrapMsg(err, "js publish", "subject", r.Subject)
		}
		return nil
	}
	return errs.ErrInternal.WrapMsg("unsupported mode", "mode", r.Mode)
}

func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
