package search

import (
	"context"
	"time"

	"PPHub/logger"
	"PPHub/module/message"
	"PPHub/service/metrics"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Backend string `json:"backend"`
}

func (h Health) OK() bool { return h.Status == StatusHealthy }

// Bridge 消息链路与外部检索存储之间的唯一接口。
// 任何失败都只记录日志，不会传回给发送方或查询方。
type Bridge struct {
	backend Backend
	fwd     Forwarder
	metrics *metrics.Metrics

	queryTimeout time.Duration
	limit        int
	closers      []func()
}

type Option func(*Bridge)

func WithForwarder(f Forwarder) Option { return func(b *Bridge) { b.fwd = f } }

func WithMetrics(m *metrics.Metrics) Option { return func(b *Bridge) { b.metrics = m } }

func WithQueryTimeout(d time.Duration) Option { return func(b *Bridge) { b.queryTimeout = d } }

func WithLimit(n int) Option { return func(b *Bridge) { b.limit = n } }

// WithCloser Close 时按注册的逆序执行
func WithCloser(f func()) Option { return func(b *Bridge) { b.closers = append(b.closers, f) } }

func NewBridge(backend Backend, opts ...Option) *Bridge {
	if backend == nil {
		backend = NewNone()
	}
	b := &Bridge{backend: backend, queryTimeout: 3 * time.Second, limit: 100}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) Backend() string { return b.backend.Name() }

// ForwardIndex 立即返回；入队失败只计数
func (b *Bridge) ForwardIndex(m message.Message) {
	if b.fwd == nil {
		b.metrics.Forward("skipped")
		return
	}
	if b.fwd.Forward(m) {
		b.metrics.Forward("queued")
	} else {
		b.metrics.Forward("dropped")
	}
}

// Query 失败返回空切片（非 nil）
func (b *Bridge) Query(ctx context.Context, term, channelID string) []message.Message {
	q := Query{Term: term, ChannelID: channelID, Limit: b.limit}
	if len(tokens(term)) == 0 {
		return []message.Message{}
	}
	ctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	start := time.Now()
	res, err := b.backend.Search(ctx, q)
	took := time.Since(start).Seconds()
	if err != nil {
		b.metrics.Query(b.backend.Name(), "error", took)
		logger.Warn("[Search] query degraded to empty",
			zap.String("backend", b.backend.Name()),
			zap.String("term", term),
			zap.String("channel", channelID),
			zap.Error(err))
		return []message.Message{}
	}
	b.metrics.Query(b.backend.Name(), "ok", took)
	if res == nil {
		res = []message.Message{}
	}
	return res
}

func (b *Bridge) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()
	if err := b.backend.Ping(ctx); err != nil {
		return Health{Status: StatusUnhealthy, Message: err.Error(), Backend: b.backend.Name()}
	}
	return Health{Status: StatusHealthy, Message: "search store reachable", Backend: b.backend.Name()}
}

// LogHealth 启动时调用一次，结果只写日志
func (b *Bridge) LogHealth(ctx context.Context) Health {
	h := b.Health(ctx)
	if h.OK() {
		logger.Info("[Search] store healthy", zap.String("backend", h.Backend))
	} else {
		logger.Warn("[Search] store unhealthy, search degrades to empty results",
			zap.String("backend", h.Backend), zap.String("reason", h.Message))
	}
	return h
}

// Close 先停转发（排空队列），再关后端
func (b *Bridge) Close() {
	if b.fwd != nil {
		b.fwd.Close()
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	if err := b.backend.Close(); err != nil {
		logger.Warn("[Search] close backend", zap.Error(err))
	}
}
