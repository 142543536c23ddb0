package natsx

import (
	"context"
	"time"

	"PPHub/tools/errs"
)

// Manager 门面：连接、生产、消费一起管理
type Manager struct {
	client   *Client
	producer *Producer
	consumer *Consumer
}

func NewManager(cfg Config, mws ...Middleware) (*Manager, error) {
	c, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client:   c,
		producer: NewProducer(c),
		consumer: NewConsumer(c, mws...),
	}, nil
}

// SetRetry 发布失败重试策略
func (m *Manager) SetRetry(retries int, backoff time.Duration) {
	m.producer.Retries, m.producer.Backoff = retries, backoff
}

func (m *Manager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return errs.ErrInternal.WrapMsg("manager not initialized")
	}
	return m.client.Ping(ctx)
}

func (m *Manager) RegisterRoute(r Route) error {
	if m == nil || m.client == nil {
		return errs.ErrInternal.WrapMsg("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

func (m *Manager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return errs.ErrInternal.WrapMsg("manager not initialized")
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

func (m *Manager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return errs.ErrInternal.WrapMsg("manager not initialized")
	}
	return m.producer.PublishOnce(ctx, biz, data, hdr, msgID)
}

func (m *Manager) Subscribe(biz string, h Handler) error {
	if m == nil || m.consumer == nil {
		return errs.ErrInternal.WrapMsg("manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}
