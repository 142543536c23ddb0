package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PPHub/data/database/mgo/mongoutil"
	"PPHub/logger"
	"PPHub/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second
	failThresh  = 3 // 连续 ping 失败次数
)

// Manager 后台连接 MongoDB，掉线自动重连；调用方不会因为 Mongo 不可用而阻塞
type Manager struct {
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪时 close
	readyOnce sync.Once

	lastErr atomic.Value // error
	done    chan struct{}
}

func NewManager(cfg *mongoutil.Config) *Manager {
	return &Manager{cfg: cfg, readyCh: make(chan struct{}), done: make(chan struct{})}
}

// StartAsync 一直运行到 ctx 结束
func (m *Manager) StartAsync(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			if !m.connect(ctx) {
				return
			}
			m.watch(ctx)
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// connect 退避重试直到成功；ctx 结束返回 false
func (m *Manager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("[Mongo] connected", zap.String("db", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		logger.Warn("[Mongo] connect failed", zap.Int("attempt", attempt), zap.Error(err))

		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
		timer := time.NewTimer(backoff - jitter/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// watch 周期 ping，连续失败达到阈值后断开回到 connect
func (m *Manager) watch(ctx context.Context) {
	fail := 0
	t := time.NewTicker(healthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return
		case <-t.C:
			db, ok := m.TryGetDB()
			if !ok {
				return
			}
			if err := db.Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh {
					logger.Warn("[Mongo] lost connection, reconnecting", zap.Error(err))
					m.drop()
					return
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.Disconnect(ctx)
		cancel()
	}
}

// Ready 首次连接成功时 close
func (m *Manager) Ready() <-chan struct{} { return m.readyCh }

// Done StartAsync 的后台协程退出后 close
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err 最近一次错误
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// WaitReady 已连接则立即返回
func (m *Manager) WaitReady(ctx context.Context) error {
	if _, ok := m.TryGetDB(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "mongo not ready", "lastErr", m.Err())
	}
}
