package search

import (
	"context"
	"time"

	"PPHub/data/database/mgo/mongoutil"
	"PPHub/global/config"
	"PPHub/logger"
	"PPHub/service/metrics"
	"PPHub/service/mgo"
	"PPHub/service/natsx"

	"go.uber.org/zap"
)

// OpenBackend 按配置创建后端；Mongo 在后台连接，其它后端只建连接池
func OpenBackend(ctx context.Context, cfg config.AppConfig) (Backend, error) {
	switch cfg.Search.Backend {
	case config.BackendMongo:
		mgr := mgo.NewManager(mongoConfig(cfg))
		mgr.StartAsync(ctx)
		return NewMongo(mgr, cfg.Search.Index)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Search.Index)
	case config.BackendSQLite:
		return NewSQLite(cfg.SQLite.Path, cfg.Search.Index)
	default:
		return NewNone(), nil
	}
}

func mongoConfig(cfg config.AppConfig) *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         cfg.Mongo.URI,
		Address:     cfg.Mongo.Address,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		AuthSource:  cfg.Mongo.AuthSource,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	}
}

// CheckStore 一次性检查配置的检索存储：mongo 直接连一次再断开，其它后端打开后 Ping
func CheckStore(ctx context.Context, cfg config.AppConfig) Health {
	h := Health{Status: StatusHealthy, Message: "search store reachable", Backend: cfg.Search.Backend}
	var err error
	if cfg.Search.Backend == config.BackendMongo {
		err = mongoutil.Check(ctx, mongoConfig(cfg))
	} else {
		var b Backend
		if b, err = OpenBackend(ctx, cfg); err == nil {
			h.Backend = b.Name()
			err = b.Ping(ctx)
			_ = b.Close()
		}
	}
	if err != nil {
		h.Status, h.Message = StatusUnhealthy, err.Error()
	}
	return h
}

// Setup 组装 Bridge。检索存储或 NATS 不可用都不会让启动失败，只会降级。
func Setup(ctx context.Context, cfg config.AppConfig, m *metrics.Metrics) *Bridge {
	bctx, cancel := context.WithCancel(ctx)

	backend, err := OpenBackend(bctx, cfg)
	if err != nil {
		logger.Error("[Search] open backend failed, search disabled",
			zap.String("backend", cfg.Search.Backend), zap.Error(err))
		backend = NewNone()
	}

	opts := []Option{
		WithMetrics(m),
		WithQueryTimeout(cfg.Search.QueryTimeout),
		WithLimit(cfg.Search.Limit),
		WithCloser(cancel),
	}

	var pool *Pool
	if cfg.Search.Forward == config.ForwardNats && backend.Name() != "none" {
		bus, closeBus, err := dialBus(bctx, cfg)
		if err == nil {
			err = SubscribeIndexer(bus, backend, cfg.Search.IndexTimeout)
			if err != nil {
				closeBus()
			}
		}
		if err == nil {
			pool = NewPool("nats", cfg.Search.Workers, cfg.Search.Queue, cfg.Search.IndexTimeout, PublishFunc(bus))
			opts = append(opts, WithCloser(closeBus))
		} else {
			logger.Warn("[Search] nats forwarding unavailable, indexing directly", zap.Error(err))
		}
	}
	if pool == nil && backend.Name() != "none" {
		pool = NewPool("direct", cfg.Search.Workers, cfg.Search.Queue, cfg.Search.IndexTimeout, backend.Index)
	}
	if pool != nil {
		pool.OnDone(func(err error) {
			if err != nil {
				m.Forward("failed")
			} else {
				m.Forward("indexed")
			}
		})
		opts = append(opts, WithForwarder(pool))
	}

	logger.Info("[Search] bridge ready",
		zap.String("backend", backend.Name()),
		zap.String("forward", cfg.Search.Forward))
	return NewBridge(backend, opts...)
}

func dialBus(ctx context.Context, cfg config.AppConfig) (*natsx.Manager, func(), error) {
	idem := natsx.NewMemIdem(10 * time.Minute)
	mgr, err := natsx.NewManager(natsx.Config{
		Servers:  cfg.Nats.Servers,
		Name:     cfg.Nats.Name,
		User:     cfg.Nats.User,
		Password: cfg.Nats.Password,
	}, natsx.Recover(), natsx.Logging(), natsx.Idempotent(idem, 0))
	if err != nil {
		return nil, nil, err
	}
	mgr.SetRetry(cfg.Nats.Retries, cfg.Nats.Backoff)
	if err := mgr.RegisterRoute(natsx.Route{
		Biz:     BizIndex,
		Subject: cfg.Nats.Subject,
		Mode:    natsx.ParseMode(cfg.Nats.Mode),
		Queue:   cfg.Nats.Queue,
		Durable: cfg.Nats.Durable,
	}); err != nil {
		_ = mgr.Close()
		return nil, nil, err
	}
	go idem.RunSweeper(ctx, time.Minute)
	return mgr, func() { _ = mgr.Close() }, nil
}
