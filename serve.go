package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/api"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/config"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/logger"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/metrics"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/redis"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/ai"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/service/assistant"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/session"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/tracing"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	serveAddr  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.BasicConfig.ServerAddress = serveAddr
	}
	logger.Init(cfg.BasicConfig.LogLevel, os.Stdout)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("flush traces failed")
		}
	}()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	providerName, providerCfg := cfg.Provider()
	gateway, err := ai.NewGateway(ctx, providerName, providerCfg)
	if err != nil {
		return fmt.Errorf("init completion gateway: %w", err)
	}

	service := assistant.NewService(store, gateway, cfg.BasicConfig.MaxMessages)
	workers := worker.NewManager(service, worker.Config{
		QueueSize:   cfg.BasicConfig.SessionQueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	})
	defer workers.Stop()

	if cfg.BasicConfig.LogLevel != "debug" && cfg.BasicConfig.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logger.RequestLogger())
	api.NewHandler(workers, store, api.Info{
		Service:  tracing.ServiceName,
		Provider: gateway.Provider(),
		Model:    gateway.Model(),
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", gateway.Provider()).
			Str("model", gateway.Model()).
			Int("max_messages", cfg.BasicConfig.MaxMessages).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newStore picks the Redis store when it is enabled, the in-memory one
// otherwise.
func newStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	prompt := cfg.BasicConfig.SystemPrompt

	if cfg.Redis.Enabled {
		client, err := redis.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ttl := time.Duration(cfg.Redis.TTLMinutes) * time.Minute
		log.Info().Str("prefix", cfg.Redis.KeyPrefix).Dur("ttl", ttl).Msg("using redis session store")
		return session.NewRedisStore(client, prompt, cfg.Redis.KeyPrefix, ttl), nil
	}

	opts := []session.MemoryOption{
		session.WithEvictHook(func(id string) {
			metrics.IncSessionsEvicted()
			log.Debug().Str("session_id", id).Msg("session evicted")
		}),
	}
	if cfg.BasicConfig.MaxSessions > 0 {
		opts = append(opts, session.WithCapacity(cfg.BasicConfig.MaxSessions))
	}
	ttl := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	if ttl > 0 {
		opts = append(opts, session.WithTTL(ttl))
	}
	store := session.NewMemoryStore(prompt, opts...)
	store.StartJanitor(ctx, session.DefaultJanitorInterval)
	return store, nil
}
