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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/config"
	"github.com/zhouzirui/companion-chat/internal/handler"
	"github.com/zhouzirui/companion-chat/internal/handler/socket"
	"github.com/zhouzirui/companion-chat/internal/logging"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
	"github.com/zhouzirui/companion-chat/internal/service/ai"
	"github.com/zhouzirui/companion-chat/internal/service/chat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	store, closeStore, err := newStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	responder, err := ai.NewResponder(ctx, cfg.AI, cfg.Server.PromptHistory, cfg.Server.ChunkDelay, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize AI service: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := handler.NewRouter(handler.Dependencies{
		Companions: companion.NewMemoryStore(companion.Seed()),
		Store:      store,
		Responder:  responder,
		Socket: socket.Options{
			PingInterval: cfg.Server.PingInterval,
			PingTimeout:  cfg.Server.PingTimeout,
			HistoryLimit: cfg.Server.HistoryLimit,
		},
		Logger:   logger,
		Registry: registry,
	})

	addr, err := cfg.Server.Addr()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Bool("ai", cfg.AI.Enabled()).Bool("redis", cfg.Store.Enabled()).Msg("companion chat server listening")
	return runServer(ctx, srv)
}

// newStore 在配置了 REDIS_URL 时使用 Redis，否则退回内存存储。
func newStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (chat.Store, func(), error) {
	if !cfg.Enabled() {
		logger.Info().Msg("REDIS_URL 未配置，使用内存会话存储")
		return chat.NewMemoryStore(), func() {}, nil
	}

	client, err := cfg.NewRedisClient()
	if err != nil {
		return nil, nil, err
	}
	store := chat.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to establish Redis connection: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
