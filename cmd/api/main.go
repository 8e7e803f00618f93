package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ardabaev/cloudhost/internal/auth"
	"github.com/ardabaev/cloudhost/internal/billing"
	"github.com/ardabaev/cloudhost/internal/bucket"
	"github.com/ardabaev/cloudhost/internal/cache"
	"github.com/ardabaev/cloudhost/internal/config"
	"github.com/ardabaev/cloudhost/internal/ledger"
	"github.com/ardabaev/cloudhost/internal/logger"
	"github.com/ardabaev/cloudhost/internal/metrics"
	"github.com/ardabaev/cloudhost/internal/notify"
	"github.com/ardabaev/cloudhost/internal/server"
	"github.com/ardabaev/cloudhost/internal/storage"
)

const (
	cacheSize        = 4096
	cacheTTL         = 5 * time.Minute
	notifyBufferSize = 256
	shutdownTimeout  = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	zlog, err := logger.Init()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal("load config", zap.Error(err))
	}

	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		zlog.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	minioClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		zlog.Fatal("connect minio", zap.Error(err))
	}

	authRepo := auth.NewRepository(dbPool)
	authService := auth.NewService(authRepo, cfg.Auth)

	notifyRepo := notify.NewRepository(dbPool)
	dispatcher := notify.NewDispatcher(notifyRepo, zlog, notifyBufferSize)
	dispatcher.Start()
	defer dispatcher.Close()

	ledgerRepo := ledger.NewRepository(dbPool)
	ledgerService := ledger.NewService(ledgerRepo)

	ttlCache := cache.New(cacheSize, cacheTTL)
	objectStore := bucket.NewMinIOStore(minioClient)
	bucketRepo := bucket.NewRepository(dbPool)
	bucketService := bucket.NewService(bucketRepo, ledgerRepo, objectStore, dispatcher,
		config.Plans(), ttlCache, cfg.Billing, cfg.MinIO.Region, zlog)

	billingService := billing.NewService(bucketRepo, ledgerRepo, dispatcher,
		cfg.Billing.Cycle, cfg.Billing.GracePeriod, zlog)
	scheduler := billing.NewScheduler(billingService, cfg.Billing.SweepInterval, zlog)
	scheduler.Start()

	router := server.NewRouter(server.Dependencies{
		Config:        cfg,
		DB:            dbPool,
		ObjectStore:   minioClient,
		AuthService:   authService,
		BucketService: bucketService,
		LedgerService: ledgerService,
		Notifications: notifyRepo,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("CloudHost API listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	zlog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		zlog.Warn("billing sweep did not finish before shutdown deadline")
	}
}
