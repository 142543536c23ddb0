package config

import "time"

// AppConfig 进程级配置；yaml 文件、环境变量最终都落到这里
type AppConfig struct {
	NodeID   int64          `yaml:"nodeId"` // 雪花节点号（0~1023）
	Server   ServerConfig   `yaml:"server"`
	Hub      HubConfig      `yaml:"hub"`
	Search   SearchConfig   `yaml:"search"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Nats     NatsConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"` // gin: debug | release | test
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"` // 为空则不校验 Origin
}

// HubConfig 连接与投递相关参数
type HubConfig struct {
	SendQueue      int           `yaml:"sendQueue"` // 每连接发送队列长度
	WriteWait      time.Duration `yaml:"writeWait"`
	PongWait       time.Duration `yaml:"pongWait"`
	PingPeriod     time.Duration `yaml:"pingPeriod"` // 必须小于 PongWait
	MaxMessageSize int64         `yaml:"maxMessageSize"`
	NotifyLeave    bool          `yaml:"notifyLeave"` // 离开频道时是否通知其他成员
}

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"

	ForwardDirect = "direct"
	ForwardNats   = "nats"
)

type SearchConfig struct {
	Backend      string        `yaml:"backend"` // mongo | postgres | sqlite | none
	Forward      string        `yaml:"forward"` // direct | nats
	Index        string        `yaml:"index"`   // 集合/表名
	Workers      int           `yaml:"workers"`
	Queue        int           `yaml:"queue"`
	IndexTimeout time.Duration `yaml:"indexTimeout"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	Limit        int           `yaml:"limit"` // 单次查询最大条数
}

type MongoConfig struct {
	URI         string   `yaml:"uri"`
	Address     []string `yaml:"address"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	AuthSource  string   `yaml:"authSource"`
	MaxPoolSize int      `yaml:"maxPoolSize"`
	MaxRetry    int      `yaml:"maxRetry"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type NatsConfig struct {
	Servers  []string      `yaml:"servers"`
	Name     string        `yaml:"name"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Subject  string        `yaml:"subject"`
	Queue    string        `yaml:"queue"`
	Mode     string        `yaml:"mode"` // core | js_push
	Durable  string        `yaml:"durable"`
	Retries  int           `yaml:"retries"`
	Backoff  time.Duration `yaml:"backoff"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"poolSize"`
	PresenceTTL time.Duration `yaml:"presenceTTL"`
}

const (
	AuthNone = "none" // 握手只校验 userId 存在
	AuthJWT  = "jwt"  // 握手需要有效的 Bearer 令牌
)

type AuthConfig struct {
	Mode   string        `yaml:"mode"`
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
