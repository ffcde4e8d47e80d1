package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tour-booking-api/api/swagger"
	"github.com/noah-isme/tour-booking-api/internal/handler"
	"github.com/noah-isme/tour-booking-api/internal/notify"
	"github.com/noah-isme/tour-booking-api/internal/repository"
	"github.com/noah-isme/tour-booking-api/internal/router"
	"github.com/noah-isme/tour-booking-api/internal/service"
	"github.com/noah-isme/tour-booking-api/migrations"
	"github.com/noah-isme/tour-booking-api/pkg/cache"
	"github.com/noah-isme/tour-booking-api/pkg/config"
	"github.com/noah-isme/tour-booking-api/pkg/database"
	"github.com/noah-isme/tour-booking-api/pkg/jobs"
	"github.com/noah-isme/tour-booking-api/pkg/logger"
	"github.com/noah-isme/tour-booking-api/pkg/ratelimit"
	"github.com/noah-isme/tour-booking-api/pkg/storage"
)

// @title Tour Booking API
// @version 1.0.0
// @description Tours, reviews, bookings and user accounts
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, migrations.FS); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
	}
	var sharedRedis redis.UniversalClient
	if redisClient != nil {
		sharedRedis = redisClient
		defer redisClient.Close()
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Prefix, cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	metrics := service.NewMetricsService()

	sender, err := notify.NewSender(cfg.Mail, logr)
	if err != nil {
		logr.Fatal("failed to init mail sender", zap.Error(err))
	}
	if closer, ok := sender.(interface{ Close() error }); ok {
		defer closer.Close() //nolint:errcheck
	}
	deliver := notify.JobHandler(sender)
	mailQueue := jobs.NewQueue[notify.Message]("mail", func(ctx context.Context, job jobs.Job[notify.Message]) error {
		err := deliver(ctx, job)
		metrics.RecordMail(string(job.Payload.Kind), err)
		return err
	}, jobs.QueueConfig{Workers: cfg.Mail.Workers, MaxRetries: 3, RetryDelay: 5 * time.Second, Logger: logr})
	mailQueue.Start(ctx)
	defer mailQueue.Stop()

	images, err := storage.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		logr.Fatal("failed to prepare upload directory", zap.Error(err))
	}

	tourRepo := repository.NewTourRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	userRepo := repository.NewUserRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	cacheRepo := repository.NewCacheRepository(sharedRedis, "tours-api")

	validate := service.NewValidator()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && sharedRedis != nil)

	authSvc := service.NewAuthService(service.AuthDeps{
		Users:   userRepo,
		Hasher:  service.NewBcryptHasher(cfg.Auth.BcryptCost),
		Signer:  service.NewJWTSigner(cfg.JWT.Secret, cfg.JWT.Issuer),
		Mailer:  sender,
		Welcome: mailQueue,
		Metrics: metrics,
	}, validate, logr, service.AuthConfig{
		TokenTTL:          cfg.JWT.Expiration,
		ResetTokenTTL:     cfg.Auth.ResetTokenTTL,
		PasswordMinLength: cfg.Auth.PasswordMinLength,
		ResetURL:          cfg.PublicBaseURL + cfg.APIPrefix + "/users/resetPassword/",
		AccountURL:        cfg.PublicBaseURL + "/me",
	})
	go authSvc.RunResetJanitor(ctx, cfg.Auth.ResetPurgeEvery)

	tourSvc := service.NewTourService(tourRepo, reviewRepo, userRepo, images, cacheSvc, metrics, validate, logr)
	reviewSvc := service.NewReviewService(reviewRepo, tourRepo, tourSvc, validate, logr)
	userSvc := service.NewUserService(userRepo, images, validate, logr)
	bookingSvc := service.NewBookingService(bookingRepo, tourRepo, validate, logr)

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	engine := router.New(cfg, router.Deps{
		Auth:     authSvc,
		Observer: metrics,
		Limiter:  limiter,
		Logger:   logr,
	}, router.Handlers{
		Auth:     handler.NewAuthHandler(authSvc, handler.CookieConfig{MaxAge: cfg.JWT.CookieExpiration, Secure: cfg.Env == config.EnvProduction}),
		Tours:    handler.NewTourHandler(tourSvc),
		Reviews:  handler.NewReviewHandler(reviewSvc),
		Users:    handler.NewUserHandler(userSvc),
		Bookings: handler.NewBookingHandler(bookingSvc),
		Metrics:  handler.NewMetricsHandler(metrics.Handler(), deps),
	})
	engine.Static("/img", images.Dir())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
