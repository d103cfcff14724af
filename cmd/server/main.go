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

	"github.com/lalith-99/echoroom/internal/api"
	"github.com/lalith-99/echoroom/internal/config"
	"github.com/lalith-99/echoroom/internal/db"
	"github.com/lalith-99/echoroom/internal/observ"
	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/lalith-99/echoroom/internal/relay"
	"github.com/lalith-99/echoroom/internal/repository"
	"github.com/lalith-99/echoroom/internal/repository/memory"
	"github.com/lalith-99/echoroom/internal/repository/postgres"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type stores struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	health   func(ctx context.Context) error
	close    func()
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.NodeID)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Stores
	// ---------------------------------------------------------------
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// ---------------------------------------------------------------
	// 3. Realtime hub, plus the Redis relay when running more than one
	//    instance
	// ---------------------------------------------------------------
	hubOpts := []realtime.Option{realtime.WithNodeID(cfg.NodeID)}

	var rdb *relay.Redis
	if cfg.RedisURL != "" {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		rdb, err = relay.New(startCtx, cfg.RedisURL, cfg.NodeID, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		hubOpts = append(hubOpts, realtime.WithRelay(rdb))
	}

	hub := realtime.NewHub(st.messages, logger, hubOpts...)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubStopped := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubStopped)
	}()

	if rdb != nil {
		go func() {
			if err := rdb.Run(hubCtx, hub.Deliver); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}

	// ---------------------------------------------------------------
	// 4. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Users:    st.users,
		Messages: st.messages,
		Hub:      hub,
		Logger:   logger,
		Health:   st.health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting echoroom",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Bool("memory_store", cfg.UseMemoryStore()),
			zap.Bool("relay", rdb != nil),
			zap.Strings("allowed_origins", cfg.AllowedOrigins),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			stopHub()
			<-hubStopped
			return fmt.Errorf("http server: %w", err)
		}
	}

	// ---------------------------------------------------------------
	// 5. Graceful shutdown: stop taking requests, then close every
	//    push connection and wait for in-flight re-fetches
	// ---------------------------------------------------------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}

	stopHub()
	<-hubStopped
	logger.Info("echoroom stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.UseMemoryStore() {
		logger.Warn("using in-memory store; data is lost on restart")
		mem := memory.NewStore()
		return &stores{
			users:    mem.Users(),
			messages: mem.Messages(),
			close:    func() {},
		}, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	database, err := db.New(startCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(startCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	pool := database.Pool()
	return &stores{
		users:    postgres.NewUserStore(pool),
		messages: postgres.NewMessageStore(pool),
		health:   database.Health,
		close:    database.Close,
	}, nil
}
