package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/loveaihub/loveaihub/internal/auth"
	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/database"
	"github.com/loveaihub/loveaihub/internal/provider"
	"github.com/loveaihub/loveaihub/internal/repository"
	"github.com/loveaihub/loveaihub/internal/server"
	"github.com/loveaihub/loveaihub/internal/service"
	"github.com/loveaihub/loveaihub/internal/storage"
	"github.com/loveaihub/loveaihub/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			logr.Error("sentry init failed", "err", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	providerClient := provider.NewClient(cfg, logr)
	verifier := auth.NewVerifier(cfg, logr)

	var assets service.AssetStore
	if cfg.AssetStorageEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		assets = uploader
	}

	userService := service.NewUserService(cfg, userRepo)
	generationService := service.NewGenerationService(cfg, logr, userRepo, generationRepo, providerClient, assets)
	analyticsService := service.NewAnalyticsService(generationRepo)
	paymentService := service.NewPaymentService(cfg, logr, userRepo, paymentRepo)

	api := server.New(cfg, logr, verifier, userService, generationService, analyticsService, paymentService)
	if err := api.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
