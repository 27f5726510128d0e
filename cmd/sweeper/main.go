package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/config"
	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/model"
	"github.com/pixora/pixora-api/internal/pkg/database"
	"github.com/pixora/pixora-api/internal/pkg/kie"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

// Standalone reconciliation worker. Deploy this when the API runs with
// the in-process sweeper disabled, or to settle a backlog after an
// outage.
func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Dur("stale_after", cfg.StaleAfter).
		Msg("Starting Pixora sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, poll dedup disabled")
			rdb = nil
		} else {
			defer database.CloseRedis(rdb)
		}
	}

	store, err := storage.NewR2Storage(storage.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		BucketName:      cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create R2 storage")
	}

	kieClient, err := kie.NewClient(kie.Config{
		BaseURL:       cfg.KieBaseURL,
		APIKey:        cfg.KieAPIKey,
		CreateTimeout: cfg.KieCreateTimeout,
		StatusTimeout: cfg.KieStatusTimeout,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create KIE client")
	}

	modelRepo := model.NewRepository(db)
	generationRepo := generation.NewRepository(db)
	assetRepo := asset.NewRepository(db)

	creditService := credit.NewService(db)
	assetService := asset.NewService(assetRepo, store)
	generationService := generation.NewService(
		generationRepo,
		creditService,
		kieClient,
		assetService,
		modelRepo,
		rdb,
		generation.Config{
			MarkupPercent: cfg.MarkupPercent,
			StaleAfter:    cfg.StaleAfter,
		},
	)

	sweeper := generation.NewSweeper(generationService, generationRepo, cfg.SweepInterval, cfg.StaleAfter)
	sweeper.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down sweeper...")
	sweeper.Stop()
	log.Info().Msg("Sweeper exited properly")
}
