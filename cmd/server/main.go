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

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/credential"
	"helpdesk/backend/internal/events"
	"helpdesk/backend/internal/health"
	"helpdesk/backend/internal/logger"
	"helpdesk/backend/internal/monitoring"
	"helpdesk/backend/internal/pool"
	"helpdesk/backend/internal/provider"
	"helpdesk/backend/internal/service"
	"helpdesk/backend/internal/storage"
	"helpdesk/backend/internal/storage/blob"
	"helpdesk/backend/internal/storage/memory"
	redisstore "helpdesk/backend/internal/storage/redis"
	sqlstore "helpdesk/backend/internal/storage/sql"
	httptransport "helpdesk/backend/internal/transport/http"
)

// main 启动邮件摄取服务：HTTP（Webhook + 查询接口）与后台轮询。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting helpdesk ingestion server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		// 内存存储（开发环境）
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化 Redis 缓存（可选）
	var cache *redisstore.Cache
	if cfg.Redis.Address != "" {
		cache, err = redisstore.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("failed to connect redis, continuing without cache", zap.Error(err))
			cache = nil
		} else {
			log.Info("redis cache initialized", zap.String("address", cfg.Redis.Address))
		}
	}

	// 初始化附件 Blob 存储
	blobStore, err := blob.NewStore(cfg.Blob.Path, cfg.Blob.URLPrefix)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
	}
	log.Info("blob storage initialized", zap.String("path", cfg.Blob.Path))

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	var healthCache health.Pinger
	if cache != nil {
		healthCache = cache
	}
	healthChecker := health.NewHealthChecker(store, healthCache, log)

	// 初始化事件发布（未配置时为空实现）
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, log)
		if err != nil {
			log.Warn("failed to connect message broker, events disabled", zap.Error(err))
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
			log.Info("event publisher initialized", zap.String("exchange", cfg.Events.Exchange))
		}
	}

	// 初始化凭据管理与服务商客户端
	tokenClient := provider.NewTokenClient(cfg.Provider.TokenEndpoint, cfg.Provider.RequestTimeout)
	credentialManager := credential.NewManager(store, tokenClient, log)
	credentialManager.SetMetrics(metrics)
	if cache != nil {
		credentialManager.SetTokenCache(cache)
	}
	providerClient := provider.NewClient(
		cfg.Provider.Name,
		cfg.Provider.BaseURL,
		credentialManager,
		cfg.Provider.RequestTimeout,
		log,
	)

	// 初始化服务层
	materializer := service.NewAttachmentMaterializer(blobStore, log)
	assigner := service.NewAssignmentEngine(store, store, log)
	reconciler := service.NewTicketReconciler(store, store, publisher, cfg.Ticket.ResolutionMarkers, log)
	ingestor := service.NewIngestor(store, assigner, materializer, reconciler, publisher, cfg.Provider.Name, log)
	ingestor.SetMetrics(metrics)
	if cache != nil {
		ingestor.SetDedupHint(cache)
	}

	poller := service.NewPoller(
		store,
		providerClient,
		ingestor,
		cfg.Provider.PollInterval,
		cfg.Provider.PollPageSize,
		cfg.Provider.RateLimit,
		log,
	)
	poller.SetMetrics(metrics)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Webhook 异步处理协程池
	workers := pool.NewWorkerPool(cfg.Webhook.Workers, cfg.Webhook.QueueSize, log)
	workers.Start(ctx)

	// 创建 HTTP 服务器
	webhookHandler := httptransport.NewWebhookHandler(store, providerClient, ingestor, workers, log)
	messageHandler := httptransport.NewMessageHandler(store, blobStore, log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Store:         store,
		Webhook:       webhookHandler,
		Messages:      messageHandler,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

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

	// 轮询 goroutine
	group.Go(func() error {
		if err := poller.Run(groupCtx); err != nil && err != context.Canceled {
			log.Error("poller error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 等待已入队的 Webhook 任务处理完
		workers.Stop()

		if cache != nil {
			if err := cache.Close(); err != nil {
				log.Warn("redis close warning", zap.Error(err))
			}
		}
		if err := store.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
