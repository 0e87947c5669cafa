package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/forms/internal/config"
	"github.com/ehr/forms/internal/domain/questionnaire"
	"github.com/ehr/forms/internal/platform/auth"
	"github.com/ehr/forms/internal/platform/db"
	"github.com/ehr/forms/internal/platform/fhir"
	"github.com/ehr/forms/internal/platform/fhirclient"
	"github.com/ehr/forms/internal/platform/fhirpath"
	"github.com/ehr/forms/internal/platform/middleware"
	"github.com/ehr/forms/internal/platform/suggest"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forms-server",
		Short: "Questionnaire response engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(populateCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the forms API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)

	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := map[string]db.Check{"database": db.PoolCheck(pool)}

	// Drafts live in redis when configured, otherwise in process memory.
	var drafts questionnaire.DraftStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		drafts = questionnaire.NewRedisDraftStore(rdb, cfg.DraftTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info().Dur("ttl", cfg.DraftTTL).Msg("redis draft store enabled")
	} else {
		drafts = questionnaire.NewMemoryDraftStore()
		logger.Warn().Msg("REDIS_URL not set, drafts are kept in memory")
	}

	svc := questionnaire.NewService(
		questionnaire.NewQuestionnaireRepoPG(pool),
		questionnaire.NewResponseRepoPG(pool),
		drafts,
		questionnaire.NewPopulator(fhirpath.NewEngine(), logger),
		logger,
	)
	if cfg.FHIRBaseURL != "" {
		svc.SetContextResolver(fhirclient.New(cfg.FHIRBaseURL, cfg.FHIRTimeout, logger))
		logger.Info().Str("base_url", cfg.FHIRBaseURL).Msg("launch context resolution enabled")
	}

	registry := questionnaire.NewSuggestionRegistry()
	if err := suggest.RegisterAll(registry, cfg.SuggestionProviders, cfg.FHIRTimeout, logger); err != nil {
		return fmt.Errorf("suggestion providers: %w", err)
	}
	svc.SetSuggestionRegistry(registry)
	logger.Info().Strs("providers", registry.Names()).Msg("suggestion providers registered")

	e := newServer(cfg, svc, checks, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer assembles the echo instance: global middleware, auth, health
// endpoints and the questionnaire routes.
func newServer(cfg *config.Config, svc *questionnaire.Service, checks map[string]db.Check, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = fhir.ErrorHandler(logger)

	// Logger handles the error itself, so Recovery must sit inside it.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Location", middleware.RequestIDHeader, "X-Populated-Items"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.DefinitionBodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", db.HealthHandler(checks))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	fhirGroup := e.Group("/fhir", middleware.RateLimit(rateLimitCfg))

	questionnaire.NewHandler(svc).RegisterRoutes(apiV1, fhirGroup)
	return e
}
