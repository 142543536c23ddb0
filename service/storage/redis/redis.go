package redis

import (
	"context"
	"time"

	"PPHub/global/config"
	"PPHub/logger"
	"PPHub/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options 由 config.RedisConfig 转换而来
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration // <=0 默认 3s
}

func FromConfig(c config.RedisConfig) Options {
	return Options{Addr: c.Addr, Password: c.Password, DB: c.DB, PoolSize: c.PoolSize}
}

// Open 建连并 Ping 一次；失败时关闭客户端并返回错误
func Open(ctx context.Context, o Options) (*redis.Client, error) {
	if o.Addr == "" {
		return nil, errs.New("redis addr is empty")
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		PoolSize:    o.PoolSize,
		DialTimeout: o.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, o.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", o.Addr)
	}
	logger.Info("[redis] connected", zap.String("addr", o.Addr), zap.Int("db", o.DB))
	return rdb, nil
}
