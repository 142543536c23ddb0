package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPHub/global/config"
	"PPHub/logger"
	"PPHub/module/message"
	"PPHub/module/presence"
	"PPHub/service/chat"
	"PPHub/service/metrics"
	"PPHub/service/search"
	rediskit "PPHub/service/storage/redis"
	"PPHub/tools/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "pphub",
		Short:        "PPHub: real-time channel messaging hub",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to yaml config (env PPHUB_* overrides)")

	root.AddCommand(serveCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.AppConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	logger.Setup(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Color: cfg.Log.Format != "json"})
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub (WebSocket + HTTP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger.Info("[pphub] starting", zap.String("config", cfg.String()))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			bridge := search.Setup(ctx, cfg, m)
			defer bridge.Close()
			hctx, hcancel := context.WithTimeout(ctx, 5*time.Second)
			bridge.LogHealth(hctx)
			hcancel()

			reg := presence.NewRegistry()
			var locator chat.Locator
			if cfg.Redis.Enabled {
				rdb, err := rediskit.Open(ctx, rediskit.FromConfig(cfg.Redis))
				if err != nil {
					// 镜像只是旁路，连不上照常启动
					logger.Warn("[pphub] redis unavailable, presence mirror disabled", zap.Error(err))
				} else {
					defer rdb.Close()
					mirror := presence.NewRedisMirror(rdb, presence.RedisMirrorConf{
						NodeID: fmt.Sprintf("node-%d", cfg.NodeID),
						TTL:    cfg.Redis.PresenceTTL,
					})
					reg = presence.NewRegistry(presence.WithMirror(mirror))
					mirror.Start(reg.OnlineUsers)
					defer mirror.Stop()
					locator = mirror
				}
			}

			srv := chat.NewServer(cfg, chat.Deps{
				Store:    message.NewMemStore(message.WithNodeID(cfg.NodeID)),
				Registry: reg,
				Search:   bridge,
				Metrics:  m,
				Locator:  locator,
			})
			err = srv.Run(ctx)
			logger.Info("[pphub] stopped", zap.Error(err))
			return err
		},
	}
}

func healthCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Ping the configured search backend once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			// mongo 走一次性连接+Ping，不启动后台管理器
			h := search.CheckStore(ctx, cfg)
			out, _ := json.MarshalIndent(h, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !h.OK() {
				return fmt.Errorf("search backend %s unhealthy", h.Backend)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the backend")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Mint a development handshake token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret (or PPHUB_AUTH_SECRET) is required")
			}
			opts := security.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, TTL: cfg.Auth.TTL, Issuer: cfg.Auth.Issuer}
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := security.Generate(opts, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.ttl)")
	return cmd
}
