package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PPHub/global/config"
	"PPHub/logger"
	"PPHub/middleware"
	midsec "PPHub/middleware/security"
	"PPHub/module/message"
	"PPHub/module/presence"
	"PPHub/service/metrics"
	"PPHub/service/search"
	"PPHub/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Searcher search.Bridge 对外的能力
type Searcher interface {
	Indexer
	Query(ctx context.Context, term, channelID string) []message.Message
	Health(ctx context.Context) search.Health
}

// Locator 查询用户在哪个节点在线（presence.RedisMirror）
type Locator interface {
	Lookup(ctx context.Context, userID string) (nodeID string, online bool, err error)
}

// Deps 进程启动时显式构造并注入；nil 的字段使用内存/空实现
type Deps struct {
	Store    message.Store
	Registry *presence.Registry
	Search   Searcher
	Metrics  *metrics.Metrics
	Auth     Authenticator // nil 时按 auth.mode 选择
	Locator  Locator       // 可为 nil
}

// Server 组装 Session/Hub/Store/Search 并暴露 WebSocket 与 HTTP 接口
type Server struct {
	cfg config.AppConfig

	Sessions *SessionManager
	Hub      *Hub
	Conns    *ConnManager
	Registry *presence.Registry
	Store    message.Store
	Search   Searcher
	Locator  Locator

	disp     *Dispatcher
	metrics  *metrics.Metrics
	engine   *gin.Engine
	upgrader websocket.Upgrader
	connConf ConnConf
	authOpts *midsec.Options
	ctx      context.Context
}

func NewServer(cfg config.AppConfig, d Deps) *Server {
	if d.Store == nil {
		d.Store = message.NewMemStore(message.WithNodeID(cfg.NodeID))
	}
	if d.Registry == nil {
		d.Registry = presence.NewRegistry()
	}
	if d.Search == nil {
		d.Search = search.NewBridge(nil, search.WithMetrics(d.Metrics))
	}

	jwtOpts := security.Options{
		Secret: []byte(cfg.Auth.Secret),
		Alg:    cfg.Auth.Alg,
		TTL:    cfg.Auth.TTL,
		Issuer: cfg.Auth.Issuer,
	}
	var auth Authenticator = PlainAuth{}
	if cfg.Auth.Mode == config.AuthJWT {
		auth = JWTAuth{Opts: jwtOpts}
	}
	if d.Auth != nil {
		auth = d.Auth
	}

	conns := NewConnManager()
	hub := NewHub(conns, d.Metrics)
	s := &Server{
		cfg:      cfg,
		Hub:      hub,
		Conns:    conns,
		Registry: d.Registry,
		Store:    d.Store,
		Search:   d.Search,
		Locator:  d.Locator,
		metrics:  d.Metrics,
		authOpts: midsec.DefaultOptions(jwtOpts),
		ctx:      context.Background(),
		connConf: ConnConf{
			SendQueue:      cfg.Hub.SendQueue,
			WriteWait:      cfg.Hub.WriteWait,
			PongWait:       cfg.Hub.PongWait,
			PingPeriod:     cfg.Hub.PingPeriod,
			MaxMessageSize: cfg.Hub.MaxMessageSize,
		},
	}
	s.Sessions = NewSessionManager(SessionDeps{
		Auth:     auth,
		Registry: d.Registry,
		Conns:    conns,
		Hub:      hub,
		Store:    d.Store,
		Indexer:  d.Search,
		Metrics:  d.Metrics,
	}, SessionConf{NotifyLeave: cfg.Hub.NotifyLeave})

	s.disp = NewDispatcher(d.Metrics)
	s.disp.RegisterSession(s.Sessions)

	allowed := cfg.Server.AllowedOrigins
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(allowed, r.Header.Get("Origin"))
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	if s.cfg.Server.Mode != "" {
		gin.SetMode(s.cfg.Server.Mode)
	}
	r := gin.New()
	// Manager 内的中间件只做检查，不调用 c.Next
	checks := middleware.NewManager(middleware.Origin(s.cfg.Server.AllowedOrigins))
	r.Use(middleware.Recovery(), middleware.Logger(s.metrics), checks.Use())

	auth := middleware.RouteOpt{IsAuth: s.cfg.Auth.Mode == config.AuthJWT, Auth: s.authOpts}
	open := middleware.RouteOpt{}

	chat := r.Group("/chat")
	middleware.GET(chat, "/ws", s.HandleWS, open) // 鉴权在握手内完成
	middleware.GET(chat, "/channels/:channelId/messages", s.GetHistory, auth)
	middleware.GET(chat, "/channels/:channelId/members", s.GetMembers, auth)
	middleware.GET(chat, "/search", s.SearchMessages, auth)
	middleware.GET(chat, "/presence", s.GetPresence, auth)

	middleware.GET(r, "/health/search", s.SearchHealth, open)
	middleware.GET(r, "/healthz", s.Healthz, open)
	if s.cfg.Metrics.Enabled {
		r.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}
	return r
}

// Handler 测试用
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) baseCtx() context.Context { return s.ctx }

// Run 阻塞到 ctx 结束，随后断开全部连接并优雅关闭 HTTP
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:        s.cfg.Server.Addr,
		Handler:     s.engine,
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// WebSocket 长连接由 WritePump 自己控制写超时
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] listening", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	n := s.Sessions.DisconnectAll()
	logger.Info("[Server] shutting down", zap.Int("disconnected", n))
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
