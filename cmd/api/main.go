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
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/randari3d/randari3d-api/internal/config"
	"github.com/randari3d/randari3d-api/internal/domain/generation"
	"github.com/randari3d/randari3d-api/internal/domain/ledger"
	"github.com/randari3d/randari3d-api/internal/domain/purchase"
	"github.com/randari3d/randari3d-api/internal/middleware"
	"github.com/randari3d/randari3d-api/internal/pkg/assets"
	"github.com/randari3d/randari3d-api/internal/pkg/checkout"
	"github.com/randari3d/randari3d-api/internal/pkg/database"
	"github.com/randari3d/randari3d-api/internal/pkg/jwt"
	"github.com/randari3d/randari3d-api/internal/pkg/logger"
	"github.com/randari3d/randari3d-api/internal/pkg/provider"
	"github.com/randari3d/randari3d-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Randari3D API")

	if err := database.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, progress snapshots disabled")
		redisClient = nil
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret)

	// ---------- Provider gateways ----------
	registry := buildRegistry(cfg)
	log.Info().Strs("providers", registry.Names()).Msg("Provider registry ready")

	// ---------- Asset archive (optional) ----------
	var archiver generation.Archiver
	if cfg.Assets.AccountID != "" {
		store, err := assets.NewR2Store(assets.R2Config{
			AccountID:       cfg.Assets.AccountID,
			AccessKeyID:     cfg.Assets.AccessKeyID,
			AccessKeySecret: cfg.Assets.AccessKeySecret,
			BucketName:      cfg.Assets.BucketName,
			PublicURL:       cfg.Assets.PublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create R2 store")
		}
		archiver = assets.NewArchiver(store)
	} else {
		log.Warn().Msg("R2 not configured, serving vendor asset URLs directly")
	}

	// ---------- Repositories ----------
	ledgerRepo := ledger.NewRepository(db)
	jobRepo := generation.NewRepository(db)
	purchaseRepo := purchase.NewRepository(db)

	// ---------- Services ----------
	ledgerService := ledger.NewService(ledgerRepo, cfg.DailyRefill)
	generationService := generation.NewService(jobRepo, ledgerService, registry, archiver, redisClient)

	checkoutClient := checkout.NewClient(checkout.Config{
		BaseURL:   cfg.Payment.BaseURL,
		SecretKey: cfg.Payment.SecretKey,
	})
	purchaseService := purchase.NewService(purchaseRepo, ledgerService, checkoutClient, purchase.URLs{
		Success: cfg.Payment.SuccessURL,
		Cancel:  cfg.Payment.CancelURL,
	})

	// ---------- Handlers ----------
	ledgerHandler := ledger.NewHandler(ledgerService)
	generationHandler := generation.NewHandler(generationService)
	purchaseHandler := purchase.NewHandler(purchaseService, cfg.Payment.WebhookSecret, cfg.Payment.SignatureTolerance)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Stale-job reaper ----------
	reaper := generation.NewReaper(jobRepo, ledgerService, cfg.ReaperStaleAfter)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.ReaperInterval.String(), func() {
		reaper.Run(context.Background())
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reaper")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/generate", generationHandler.Routes(authMiddleware))
		r.Mount("/account", ledgerHandler.Routes(authMiddleware))
		r.Mount("/payments", purchaseHandler.Routes(authMiddleware))
	})

	r.Mount("/webhooks", purchaseHandler.WebhookRoutes())

	// WriteTimeout has to outlive the longest provider poll budget because
	// the generate endpoint blocks until the job finishes.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
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

func buildRegistry(cfg *config.Config) *provider.Registry {
	gateways := make([]provider.Gateway, 0, len(cfg.Providers))

	for name, pc := range cfg.Providers {
		costs := provider.CostTable{Standard: pc.CostStandard, High: pc.CostHigh, Ultra: pc.CostUltra}
		poll := provider.PollSpec{Interval: pc.PollInterval, MaxAttempts: pc.PollMaxAttempts}

		switch name {
		case "meshy":
			gateways = append(gateways, provider.NewMeshy(provider.MeshyConfig{
				BaseURL: pc.BaseURL, APIKey: pc.APIKey, Costs: costs, Poll: poll,
			}))
		case "luma":
			gateways = append(gateways, provider.NewLuma(provider.LumaConfig{
				BaseURL: pc.BaseURL, APIKey: pc.APIKey, Costs: costs, Poll: poll,
			}))
		case "tripo":
			gateways = append(gateways, provider.NewTripo(provider.TripoConfig{
				BaseURL: pc.BaseURL, APIKey: pc.APIKey, Costs: costs, Poll: poll,
			}))
		case "stability":
			gateways = append(gateways, provider.NewStability(provider.StabilityConfig{
				BaseURL: pc.BaseURL, APIKey: pc.APIKey, Costs: costs, Poll: poll,
			}))
		default:
			log.Warn().Str("provider", name).Msg("Unknown provider in config, skipping")
		}
	}

	return provider.NewRegistry(gateways...)
}
