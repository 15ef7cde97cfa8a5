// Package main starts the invoice sync server: configuration, logging,
// PostgreSQL, the tombstone cleaner, repositories, services and the
// HTTP API.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/config"
	"github.com/wadi-transport/invoicesync/internal/db"
	"github.com/wadi-transport/invoicesync/internal/logger"
	"github.com/wadi-transport/invoicesync/internal/repository"
	"github.com/wadi-transport/invoicesync/internal/server/handler/http"
	"github.com/wadi-transport/invoicesync/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file")
	flag.Parse()

	// A .env file is optional; explicit environment wins either way.
	_ = godotenv.Load()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(cfg.Logging.Level); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	postgresDB, err := db.InitPostgres(cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Purge old invoice tombstones in the background.
	db.StartTombstoneCleaner(ctx, postgresDB,
		cfg.Cleaner.GetInterval(),
		cfg.Cleaner.GetRetention(),
		zapLogger,
	)

	invoiceRepo := repository.NewPostgresInvoiceRepository(postgresDB)
	userRepo := repository.NewPostgresUserRepository(postgresDB)
	settingsRepo := repository.NewPostgresSettingsRepository(postgresDB)

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		zapLogger.Fatal("auth.jwt_secret must be set")
	}

	authService := service.NewAuthService(userRepo, secret, cfg.Auth.GetTokenTTL())
	invoiceService := service.NewInvoiceService(invoiceRepo)
	userService := service.NewUserService(userRepo)
	settingsService := service.NewSettingsService(settingsRepo)

	// Make sure a first login is always possible on a fresh database.
	if err := authService.EnsureAdmin(ctx, cmp.Or(os.Getenv("ADMIN_PASSWORD"), "admin")); err != nil {
		zapLogger.Fatal("cannot ensure admin user", zap.Error(err))
	}

	authHandler := &http.AuthHandler{Service: authService, Log: zapLogger}
	invoiceHandler := &http.InvoiceHandler{Service: invoiceService, Log: zapLogger}
	userHandler := &http.UserHandler{Service: userService, Log: zapLogger}
	settingsHandler := &http.SettingsHandler{Service: settingsService, Log: zapLogger}

	router := http.NewRouter(authHandler, invoiceHandler, userHandler, settingsHandler, secret, zapLogger)

	server := &nethttp.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("shutdown", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr()))
	if err := server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}
