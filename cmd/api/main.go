package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/config"
	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/model"
	"github.com/pixora/pixora-api/internal/domain/upload"
	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/database"
	"github.com/pixora/pixora-api/internal/pkg/jwt"
	"github.com/pixora/pixora-api/internal/pkg/kie"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/response"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Pixora API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// Redis only guards against redundant provider polls. The service runs
	// without it.
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

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	store := newObjectStorage(cfg)

	kieClient, err := kie.NewClient(kie.Config{
		BaseURL:       cfg.KieBaseURL,
		APIKey:        cfg.KieAPIKey,
		CreateTimeout: cfg.KieCreateTimeout,
		StatusTimeout: cfg.KieStatusTimeout,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create KIE client")
	}

	// ---------- Repositories ----------
	modelRepo := model.NewRepository(db)
	generationRepo := generation.NewRepository(db)
	assetRepo := asset.NewRepository(db)
	uploadRepo := upload.NewRepository(db)

	// ---------- Services ----------
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
	uploadService := upload.NewService(uploadRepo, store)

	// ---------- Handlers ----------
	creditHandler := credit.NewHandler(creditService)
	modelHandler := model.NewHandler(modelRepo)
	generationHandler := generation.NewHandler(generationService, assetService)
	webhookHandler := generation.NewWebhookHandler(generationService)
	providerHealthHandler := generation.NewProviderHealthHandler(kieClient)
	uploadHandler := upload.NewHandler(uploadService)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)

			r.Mount("/generations", generation.Routes(generationHandler))
			r.Mount("/credits", credit.Routes(creditHandler))
			r.Mount("/uploads", upload.Routes(uploadHandler))
			r.Mount("/models", model.Routes(modelHandler))
			r.Get("/presets", modelHandler.ListPresets)
		})
	})

	// Provider callbacks carry no bearer token. Unknown task ids are
	// acknowledged so the provider stops retrying.
	r.Post("/webhooks/provider", webhookHandler.Handle)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequireAdmin())

		r.Mount("/generations", generation.AdminRoutes(generationHandler))
		r.Get("/provider/credits", providerHealthHandler.Credits)
	})

	// In-process sweeper settles generations whose webhook never arrived.
	sweeper := generation.NewSweeper(generationService, generationRepo, cfg.SweepInterval, cfg.StaleAfter)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newObjectStorage(cfg *config.Config) storage.ObjectStorage {
	if cfg.R2AccountID != "" && cfg.R2AccessKeyID != "" {
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
		return store
	}

	if cfg.IsProduction() {
		log.Fatal().Msg("R2 credentials are required in production")
	}

	store, err := storage.NewLocalStorage("./data/storage", "http://localhost:"+cfg.Port+"/files")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create local storage")
	}
	log.Warn().Msg("R2 not configured, using local storage")
	return store
}
