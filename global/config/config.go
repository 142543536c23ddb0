package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"PPHub/tools"
	"PPHub/tools/decode"
	"PPHub/tools/errs"

	"gopkg.in/yaml.v3"
)

// Default 内置默认值；文件和环境变量只覆盖显式给出的字段
func Default() AppConfig {
	return AppConfig{
		NodeID: 1,
		Server: ServerConfig{
			Addr:            ":9090",
			Mode:            "release",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Hub: HubConfig{
			SendQueue:      256,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 64 * 1024,
		},
		Search: SearchConfig{
			Backend:      BackendMongo,
			Forward:      ForwardDirect,
			Index:        "chat_messages",
			Workers:      4,
			Queue:        1024,
			IndexTimeout: 3 * time.Second,
			QueryTimeout: 3 * time.Second,
			Limit:        100,
		},
		Mongo: MongoConfig{
			URI:         "mongodb://localhost:27017",
			Database:    "pphub",
			MaxPoolSize: 20,
			MaxRetry:    3,
		},
		Postgres: PostgresConfig{MaxConns: 8},
		SQLite:   SQLiteConfig{Path: "pphub.db"},
		Nats: NatsConfig{
			Servers: []string{"nats://127.0.0.1:4222"},
			Name:    "pphub",
			Subject: "pphub.search.index",
			Queue:   "pphub-indexer",
			Mode:    "core",
			Retries: 2,
			Backoff: 200 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			PoolSize:    10,
			PresenceTTL: 2 * time.Minute,
		},
		Auth:    AuthConfig{Mode: AuthNone, Alg: "HS256", TTL: 2 * time.Hour},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load 默认值 -> yaml 文件（可选）-> 环境变量 -> Sanitize/Validate
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := Decode(raw, &cfg); err != nil {
			return cfg, errs.WrapMsg(err, "decode config", "path", path)
		}
	}
	ApplyEnv(&cfg)
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode 把 yaml 覆盖到 cfg 上，未出现的字段保持原值
func Decode(raw []byte, cfg *AppConfig) error {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	if len(m) == 0 {
		return nil
	}
	return decode.Into(m, cfg, decode.Options{
		WeaklyTypedInput: true,
		TagName:          "yaml",
		ErrorUnused:      true,
	})
}

// ApplyEnv PPHUB_* 环境变量覆盖
func ApplyEnv(cfg *AppConfig) {
	cfg.NodeID = int64(tools.GetEnvInt("PPHUB_NODE_ID", int(cfg.NodeID)))
	cfg.Server.Addr = tools.GetEnv("PPHUB_ADDR", cfg.Server.Addr)
	cfg.Server.Mode = tools.GetEnv("PPHUB_GIN_MODE", cfg.Server.Mode)
	cfg.Server.AllowedOrigins = tools.GetEnvList("PPHUB_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Hub.SendQueue = tools.GetEnvInt("PPHUB_SEND_QUEUE", cfg.Hub.SendQueue)
	cfg.Hub.NotifyLeave = tools.GetEnvBool("PPHUB_NOTIFY_LEAVE", cfg.Hub.NotifyLeave)

	cfg.Search.Backend = tools.GetEnv("PPHUB_SEARCH_BACKEND", cfg.Search.Backend)
	cfg.Search.Forward = tools.GetEnv("PPHUB_SEARCH_FORWARD", cfg.Search.Forward)
	cfg.Search.Index = tools.GetEnv("PPHUB_SEARCH_INDEX", cfg.Search.Index)
	cfg.Search.IndexTimeout = tools.GetEnvDuration("PPHUB_SEARCH_INDEX_TIMEOUT", cfg.Search.IndexTimeout)
	cfg.Search.QueryTimeout = tools.GetEnvDuration("PPHUB_SEARCH_QUERY_TIMEOUT", cfg.Search.QueryTimeout)

	cfg.Mongo.URI = tools.GetEnv("PPHUB_MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = tools.GetEnv("PPHUB_MONGO_DATABASE", cfg.Mongo.Database)
	cfg.Postgres.DSN = tools.GetEnv("PPHUB_POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.SQLite.Path = tools.GetEnv("PPHUB_SQLITE_PATH", cfg.SQLite.Path)

	cfg.Nats.Servers = tools.GetEnvList("PPHUB_NATS_SERVERS", cfg.Nats.Servers)
	cfg.Nats.User = tools.GetEnv("PPHUB_NATS_USER", cfg.Nats.User)
	cfg.Nats.Password = tools.GetEnv("PPHUB_NATS_PASSWORD", cfg.Nats.Password)

	cfg.Redis.Enabled = tools.GetEnvBool("PPHUB_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = tools.GetEnv("PPHUB_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = tools.GetEnv("PPHUB_REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Auth.Mode = tools.GetEnv("PPHUB_AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.Secret = tools.GetEnv("PPHUB_AUTH_SECRET", cfg.Auth.Secret)

	cfg.Log.Level = tools.GetEnv("PPHUB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = tools.GetEnv("PPHUB_LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Enabled = tools.GetEnvBool("PPHUB_METRICS_ENABLED", cfg.Metrics.Enabled)
}

// Sanitize 把非法或零值调回可用范围
func (c *AppConfig) Sanitize() {
	d := Default()
	if c.NodeID < 0 || c.NodeID > 1023 {
		c.NodeID = d.NodeID
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Hub.SendQueue <= 0 {
		c.Hub.SendQueue = d.Hub.SendQueue
	}
	if c.Hub.WriteWait <= 0 {
		c.Hub.WriteWait = d.Hub.WriteWait
	}
	if c.Hub.PongWait <= 0 {
		c.Hub.PongWait = d.Hub.PongWait
	}
	if c.Hub.PingPeriod <= 0 || c.Hub.PingPeriod >= c.Hub.PongWait {
		c.Hub.PingPeriod = c.Hub.PongWait * 9 / 10
	}
	if c.Hub.MaxMessageSize <= 0 {
		c.Hub.MaxMessageSize = d.Hub.MaxMessageSize
	}

	c.Search.Backend = strings.ToLower(strings.TrimSpace(c.Search.Backend))
	if c.Search.Backend == "" {
		c.Search.Backend = BackendNone
	}
	c.Search.Forward = strings.ToLower(strings.TrimSpace(c.Search.Forward))
	if c.Search.Forward == "" {
		c.Search.Forward = ForwardDirect
	}
	if c.Search.Index == "" {
		c.Search.Index = d.Search.Index
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = d.Search.Workers
	}
	if c.Search.Queue <= 0 {
		c.Search.Queue = d.Search.Queue
	}
	if c.Search.IndexTimeout <= 0 {
		c.Search.IndexTimeout = d.Search.IndexTimeout
	}
	if c.Search.QueryTimeout <= 0 {
		c.Search.QueryTimeout = d.Search.QueryTimeout
	}
	if c.Search.Limit <= 0 {
		c.Search.Limit = d.Search.Limit
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthNone
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}

func (c *AppConfig) Validate() error {
	switch c.Search.Backend {
	case BackendMongo, BackendPostgres, BackendSQLite, BackendNone:
	default:
		return errs.New("unknown search backend", "backend", c.Search.Backend)
	}
	switch c.Search.Forward {
	case ForwardDirect, ForwardNats:
	default:
		return errs.New("unknown search forward mode", "forward", c.Search.Forward)
	}
	if c.Search.Backend == BackendPostgres && c.Postgres.DSN == "" {
		return errs.New("postgres backend requires postgres.dsn")
	}
	if c.Search.Forward == ForwardNats && len(c.Nats.Servers) == 0 {
		return errs.New("nats forwarding requires nats.servers")
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthJWT:
		if c.Auth.Secret == "" {
			return errs.New("jwt auth requires auth.secret")
		}
	default:
		return errs.New("unknown auth mode", "mode", c.Auth.Mode)
	}
	return nil
}

func (c AppConfig) String() string {
	return fmt.Sprintf("addr=%s backend=%s forward=%s auth=%s redis=%v",
		c.Server.Addr, c.Search.Backend, c.Search.Forward, c.Auth.Mode, c.Redis.Enabled)
}
