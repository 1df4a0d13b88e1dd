package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"smartpin/api/internal/app"
	"smartpin/api/internal/archive"
	"smartpin/api/internal/config"
	"smartpin/api/internal/photos"
	"smartpin/api/internal/realtime"
	"smartpin/api/internal/search"
	"smartpin/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	defaults, err := config.LoadCanvasDefaults(cfg.CanvasDefaultsPath)
	if err != nil {
		log.Fatalf("canvas defaults: %v", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.DatabaseDriver, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("failed to create archive dir: %v", err)
	}

	dataStore := store.New(db, cfg.DatabaseDriver)
	deps := app.Deps{
		Store:   dataStore,
		Archive: archive.New(cfg.ArchiveDir),
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, dataStore)

	// Realtime sync across API instances is optional; a single instance
	// still syncs its own users without Redis.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		bus, err := realtime.NewBus(cfg.RedisURL, cfg.InstanceID)
		if err != nil {
			log.Printf("WARNING: realtime disabled: %v", err)
		} else if err := bus.Ping(ctx); err != nil {
			log.Printf("WARNING: realtime disabled, redis unreachable: %v", err)
			_ = bus.Close()
		} else {
			log.Printf("Realtime sync via Redis as instance %s", cfg.InstanceID)
			defer bus.Close()
			deps.Bus = bus
		}
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		photoStore, err := photos.New(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			log.Fatalf("photo storage: %v", err)
		}
		if err := photoStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: photo bucket check failed: %v", err)
		}
		deps.Photos = photoStore
	}

	service := app.New(cfg, defaults, deps)
	defer service.Close()
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("SmartPin API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
