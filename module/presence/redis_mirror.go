package presence

import (
	"context"
	"time"

	"PPHub/logger"
	"PPHub/tools/safe"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Mirror 在线状态外部镜像；实现必须非阻塞
type Mirror interface {
	Online(userID, connID string)
	Offline(userID string)
}

type mirrorOp struct {
	online bool
	userID string
	connID string
}

// RedisMirror 把在线用户写到 im:presence:<user>，value 为节点 ID，TTL 控制有效期。
// 操作按提交顺序由单协程执行，队列满时丢弃并记录日志。
type RedisMirror struct {
	rdb    redis.UniversalClient
	nodeID string
	ttl    time.Duration
	ops    chan mirrorOp
	users  func() []string
	stopCh chan struct{}
	doneCh chan struct{}
}

type RedisMirrorConf struct {
	NodeID string
	TTL    time.Duration // <=0 默认 2m
	Queue  int           // <=0 默认 1024
}

func presenceKey(user string) string { return "im:presence:" + user }

func NewRedisMirror(rdb redis.UniversalClient, conf RedisMirrorConf) *RedisMirror {
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Minute
	}
	if conf.Queue <= 0 {
		conf.Queue = 1024
	}
	return &RedisMirror{
		rdb:    rdb,
		nodeID: conf.NodeID,
		ttl:    conf.TTL,
		ops:    make(chan mirrorOp, conf.Queue),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start 启动写协程；users 用于周期续期（通常是 Registry.OnlineUsers）
func (m *RedisMirror) Start(users func() []string) {
	m.users = users
	safe.Go("presence-mirror", m.loop)
}

func (m *RedisMirror) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *RedisMirror) Online(userID, connID string) {
	m.enqueue(mirrorOp{online: true, userID: userID, connID: connID})
}

func (m *RedisMirror) Offline(userID string) {
	m.enqueue(mirrorOp{userID: userID})
}

func (m *RedisMirror) enqueue(op mirrorOp) {
	select {
	case m.ops <- op:
	default:
		logger.Warn("[presence] mirror queue full, drop", zap.String("user", op.userID), zap.Bool("online", op.online))
	}
}

func (m *RedisMirror) loop() {
	defer close(m.doneCh)
	t := time.NewTicker(m.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			// 尽量把剩余操作写完
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		case op := <-m.ops:
			m.apply(op)
		case <-t.C:
			m.refresh()
		}
	}
}

func (m *RedisMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if op.online {
		err = m.rdb.Set(ctx, presenceKey(op.userID), m.nodeID, m.ttl).Err()
	} else {
		err = m.rdb.Del(ctx, presenceKey(op.userID)).Err()
	}
	if err != nil {
		logger.Warn("[presence] mirror write failed", zap.String("user", op.userID), zap.Error(err))
	}
}

func (m *RedisMirror) refresh() {
	if m.users == nil {
		return
	}
	users := m.users()
	if len(users) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := m.rdb.Pipeline()
	for _, u := range users {
		pipe.Set(ctx, presenceKey(u), m.nodeID, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("[presence] mirror refresh failed", zap.Int("users", len(users)), zap.Error(err))
	}
}

// Lookup 查询用户在哪个节点在线
func (m *RedisMirror) Lookup(ctx context.Context, userID string) (nodeID string, online bool, err error) {
	val, err := m.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}
