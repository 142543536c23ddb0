package search

import (
	"context"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/module/message"
	"PPHub/tools/errs"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

// Forwarder 异步投递；Forward 不阻塞，返回是否入队
type Forwarder interface {
	Forward(m message.Message) bool
	Close()
}

// IndexFunc 一次实际投递（写后端或发 NATS）
type IndexFunc func(ctx context.Context, m message.Message) error

// Pool 固定 worker 消费有界队列，队列满直接丢弃
type Pool struct {
	name    string
	fn      IndexFunc
	timeout time.Duration
	onDone  func(err error)

	mu     sync.RWMutex
	closed bool
	jobs   chan message.Message
	wg     sync.WaitGroup
}

func NewPool(name string, workers, queue int, timeout time.Duration, fn IndexFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	p := &Pool{
		name:    name,
		fn:      fn,
		timeout: timeout,
		jobs:    make(chan message.Message, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for m := range p.jobs {
		msg := m
		var err error
		ok := safe.Run(p.name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			err = p.fn(ctx, msg)
		})
		if !ok {
			err = errs.ErrInternal.WrapMsg("forward panicked", "via", p.name)
		}
		if err != nil {
			logger.Warn("[Search] forward failed",
				zap.String("via", p.name),
				zap.String("msgId", msg.ID),
				zap.String("channel", msg.ChannelID),
				zap.Error(err))
		}
		if p.onDone != nil {
			p.onDone(err)
		}
	}
}

// OnDone 每条任务处理完回调一次；需在 Forward 之前设置
func (p *Pool) OnDone(f func(err error)) { p.onDone = f }

func (p *Pool) Forward(m message.Message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- m:
		return true
	default:
		logger.Warn("[Search] forward queue full, drop", zap.String("via", p.name), zap.String("msgId", m.ID))
		return false
	}
}

// Close 不再接收新任务，等待队列中的任务处理完
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
