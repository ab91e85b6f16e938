package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/natours/internal/api"
	"github.com/natours/internal/apperror"
	"github.com/natours/internal/config"
	"github.com/natours/internal/logger"
	"github.com/natours/internal/mailer"
	"github.com/natours/internal/middleware"
	"github.com/natours/internal/scheduler"
	"github.com/natours/internal/storage"

	_ "github.com/natours/docs" // swagger docs
)

// @title Natours API
// @version 1.0
// @description Tour booking REST API: tours, reviews, users and session authentication.

// @contact.name API Support
// @contact.email support@natours.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:3000
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your JWT token with the `Bearer ` prefix, e.g. "Bearer eyJhbGci..."

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(os.Stdout, cfg.IsDevelopment())
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Connect to database
	log.Info("connecting to database", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Database))
	db, err := storage.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Run migrations
	log.Info("running migrations")
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize repositories
	userRepo := storage.NewUserRepository(db)
	tourRepo := storage.NewTourRepository(db)
	reviewRepo := storage.NewReviewRepository(db)

	// Create default admin user if not exists
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminEmail != "" && adminPassword != "" {
		if err := ensureAdmin(ctx, userRepo, adminEmail, adminPassword); err != nil {
			log.Warn("failed to create admin user", zap.Error(err))
		} else {
			log.Info("admin user ready", zap.String("email", adminEmail))
		}
	}

	m, err := mailer.New(ctx, cfg.Email, log)
	if err != nil {
		return err
	}

	errs := &apperror.Responder{Development: cfg.IsDevelopment(), Log: log}
	authMiddleware := middleware.NewAuthMiddleware(cfg, userRepo, errs)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window, errs)

	sched := scheduler.NewScheduler(log,
		scheduler.ClearResetTokensJob(userRepo, log),
		scheduler.PruneRateLimiterJob(limiter, log),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Tokens that expired while the server was down.
	if err := sched.RunNow(ctx, scheduler.JobClearResetTokens); err != nil {
		log.Warn("startup job failed", zap.String("job", scheduler.JobClearResetTokens), zap.Error(err))
	}

	handler := api.NewHandler(userRepo, tourRepo, reviewRepo, authMiddleware, m, errs, sched)
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:        authMiddleware,
		RateLimiter: limiter,
		Log:         log,
		BodyLimit:   cfg.Server.BodyLimit,
		TrustProxy:  cfg.Server.TrustProxy,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("env", string(cfg.Env)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func ensureAdmin(ctx context.Context, users *storage.UserRepository, email, password string) error {
	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = users.EnsureAdmin(ctx, email, hash, "Admin")
	return err
}
