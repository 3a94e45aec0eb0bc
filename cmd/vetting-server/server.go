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
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/config"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/cases"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/reference"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/blobstore"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/middleware"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/reporting"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/telemetry"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	key, random, err := resolveSigningKey(cfg.JWTSecret, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if random {
		logger.Warn().Msg("JWT_SECRET not set; using a random key, sessions end on restart")
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer b.close()

	blobs, err := blobstore.Open(ctx, blobstore.Config{
		Driver:      cfg.BlobDriver,
		FSRoot:      cfg.BlobFSRoot,
		S3Bucket:    cfg.BlobS3Bucket,
		S3Region:    cfg.BlobS3Region,
		S3Endpoint:  cfg.BlobS3Endpoint,
		S3PathStyle: cfg.BlobS3PathStyle,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}
	logger.Info().Str("driver", string(blobs.Driver())).Msg("blob store ready")

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceVersion:    version,
		Environment:       cfg.Env,
		MetricsEnabled:    telemetry.BoolPtr(cfg.MetricsEnabled),
		RuntimeCollectors: true,
	})
	if err := b.instrument(tp); err != nil {
		logger.Warn().Err(err).Msg("database metrics unavailable")
	}

	e := newServer(cfg, b, blobs, key, tp, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", b.name).Msg("starting server")
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
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the services of b into an echo instance.
func newServer(cfg *config.Config, b *backend, blobs blobstore.Store, key []byte,
	tp *telemetry.TelemetryProvider, logger zerolog.Logger) *echo.Echo {
	tokens := auth.NewTokenIssuer(cfg.JWTIssuer, key, cfg.TokenTTL)
	svc := newServices(b, cfg, tokens, logger)
	casesSvc := cases.NewService(b.cases, svc.directory, svc.reference, blobs, b.tx, tp, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", "X-Request-ID"},
		ExposeHeaders: []string{"ETag", "Location", "Content-Disposition"},
	}))
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(tp.MetricsMiddleware())

	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}))
	e.Use(auth.RequireAccess(auth.NewResolver(svc.directory), auth.AuthSkipper))
	e.Use(middleware.Audit(logger, middleware.AuditRecorderFunc(func(entry middleware.AccessEntry) error {
		tp.ObserveAccess(entry.ResourceType, entry.Action, entry.StatusCode)
		return nil
	})))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(b.probe))
	e.GET("/metrics", tp.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	dirHandler := directory.NewHandler(svc.directory)
	dirHandler.RegisterPublicRoutes(apiV1, middleware.RateLimit(middleware.LoginRateLimitConfig()))
	dirHandler.RegisterRoutes(apiV1)
	reference.NewHandler(svc.reference).RegisterRoutes(apiV1)
	cases.NewHandler(casesSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(casesSvc, blobs, tp, logger).RegisterRoutes(apiV1)

	return e
}
