package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/bot/internal/config"
	"tempmail/bot/internal/health"
	"tempmail/bot/internal/logger"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/notify"
	"tempmail/bot/internal/pool"
	"tempmail/bot/internal/provider"
	"tempmail/bot/internal/service"
	"tempmail/bot/internal/storage"
	"tempmail/bot/internal/storage/memory"
	"tempmail/bot/internal/storage/postgres"
	redisstore "tempmail/bot/internal/storage/redis"
	"tempmail/bot/internal/telegram"
	httptransport "tempmail/bot/internal/transport/http"
	"tempmail/bot/internal/watch"
)

const version = "1.2.0"

// main 启动临时邮箱 Telegram 机器人：监听监督器、通知投递器、
// Telegram 前端与状态 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting tempmail bot",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层：配置了数据库用关系型存储，否则用内存存储（开发环境）
	store, err := newStore(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}

	// Redis（可选）：会话状态 + 去重快速路径
	var sessionStore storage.SessionRepository
	var seenCache watch.SeenCache
	var redisClient *redisstore.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize Redis: %v", err))
		}
		sessionStore = redisstore.NewSessionStore(redisClient)
		seenCache = redisstore.NewSeenCache(redisClient, cfg.Retention.MaxAge)
	} else {
		sessionStore = memory.NewSessionStore()
		log.Info("using in-memory session store")
	}

	metrics := monitoring.NewMetrics()

	providerClient := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.RequestTimeout,
		cfg.Provider.RateLimit,
		cfg.Provider.RateBurst,
		metrics,
		log,
	)
	subscriber := provider.NewWSSubscriber(cfg.Provider.WSBaseURL)

	formatter := notify.NewFormatter(cfg.Notify.PreviewLimit)
	dispatcher := watch.NewDispatcher(cfg.Watch.QueueSize, store, seenCache, formatter, metrics, log)

	supervisor := watch.NewSupervisor(
		watch.SupervisorConfig{
			Watcher: watch.WatcherConfig{
				KeepaliveInterval: cfg.Watch.KeepaliveInterval,
				BackoffInitial:    cfg.Watch.BackoffInitial,
				BackoffMax:        cfg.Watch.BackoffMax,
				AuthRetryLimit:    cfg.Watch.AuthRetryLimit,
			},
			RestoreWindow:  cfg.Watch.RestoreWindow,
			RestoreStagger: cfg.Watch.RestoreStagger,
		},
		store,
		providerClient,
		subscriber,
		providerClient,
		dispatcher,
		watch.NewClock(),
		metrics,
		log,
	)

	mailboxService := service.NewMailboxService(store, providerClient, supervisor, metrics, log)

	workers := pool.NewWorkerPool(cfg.Pool.Workers, cfg.Pool.QueueSize, log)

	bot, err := telegram.NewBot(telegram.Config{
		Token:           cfg.Telegram.Token,
		ChannelUsername: cfg.Telegram.ChannelUsername,
		ChannelURL:      cfg.Telegram.ChannelURL,
		PollTimeout:     cfg.Telegram.PollTimeout,
	}, mailboxService, sessionStore, workers, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize telegram bot: %v", err))
	}
	// 前端依赖业务层，投递器再通过 setter 拿到前端，断开构造环
	dispatcher.SetNotifier(bot)

	healthChecker := health.NewHealthChecker(store, providerClient, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Store:    store,
		Watchers: supervisor,
		Health:   healthChecker,
		Metrics:  metrics,
		Logger:   log,
		Version:  version,
	})
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// Telegram 前端 goroutine
	group.Go(func() error {
		return bot.Run(groupCtx)
	})

	// 通知投递器 goroutine
	group.Go(func() error {
		log.Info("starting notification dispatcher")
		dispatcher.Run(groupCtx)
		return nil
	})

	// 启动恢复 goroutine：延迟一段时间后为全部活跃邮箱恢复监听
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-time.After(cfg.Watch.RestoreDelay):
		}
		if err := supervisor.RestoreAll(groupCtx); err != nil && groupCtx.Err() == nil {
			log.Error("failed to restore watchers", zap.Error(err))
		}
		return nil
	})

	// 邮件留存清理 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Retention.SweepInterval)
		defer ticker.Stop()

		log.Info("starting message retention sweep",
			zap.Duration("interval", cfg.Retention.SweepInterval),
			zap.Duration("max_age", cfg.Retention.MaxAge),
		)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.Retention.MaxAge)
				count, err := store.DeleteMessagesBefore(cutoff)
				if err != nil {
					log.Error("retention sweep failed", zap.Error(err))
				} else if count > 0 {
					log.Info("old messages purged", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭 goroutine：只负责打断阻塞中的 HTTP 监听，
	// 其余资源等全部 goroutine 退出后再释放
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("bot exited with error", zap.Error(err))
	}

	supervisor.Shutdown()
	workers.Stop()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := store.Close(); err != nil {
		log.Error("failed to close storage", zap.Error(err))
	}
	log.Info("shutdown complete")
	_ = log.Sync()
}

// newStore 根据配置选择存储实现。
func newStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		log.Info("using PostgreSQL storage")
		return postgres.NewStore(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	case "mysql":
		log.Info("using MySQL storage")
		return postgres.NewMySQLStore(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	case "":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}
