package search

import (
	"context"
	"encoding/json"
	"time"

	"PPHub/module/message"
	"PPHub/service/natsx"
	"PPHub/tools/errs"
)

// BizIndex 索引转发的 natsx 路由名
const BizIndex = "search.index"

// Bus natsx.Manager 的子集
type Bus interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
	Subscribe(biz string, h natsx.Handler) error
}

// PublishFunc 把消息发到 NATS，Nats-Msg-Id 取消息 id
func PublishFunc(bus Bus) IndexFunc {
	return func(ctx context.Context, m message.Message) error {
		data, err := json.Marshal(m)
		if err != nil {
			return errs.WrapMsg(err, "marshal message", "id", m.ID)
		}
		return bus.PublishOnce(ctx, BizIndex, data, map[string]string{"Channel-Id": m.ChannelID}, m.ID)
	}
}

// SubscribeIndexer 从 NATS 消费并写入后端
func SubscribeIndexer(bus Bus, backend Backend, timeout time.Duration) error {
	return bus.Subscribe(BizIndex, func(ctx context.Context, msg natsx.Message) error {
		var m message.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return errs.ErrInvalidPayload.WrapMsg("index payload", "err", err)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return backend.Index(ctx, m)
	})
}
