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

	"greenledger/api/internal/app"
	"greenledger/api/internal/config"
	"greenledger/api/internal/email"
	"greenledger/api/internal/evidence"
	"greenledger/api/internal/jobs"
	"greenledger/api/internal/qcache"
	"greenledger/api/internal/revision"
	"greenledger/api/internal/search"
	"greenledger/api/internal/session"
	"greenledger/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	cache, err := qcache.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("question cache init failed: %v", err)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)

	revisions := revision.New(cfg.RevisionsDir)

	// Evidence storage is optional in development; uploads return 503 when
	// the object store is unreachable at boot.
	var storage *evidence.Storage
	if cfg.MinioAccessKey != "" {
		storage, err = evidence.NewStorage(ctx, evidence.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: object storage unavailable, evidence uploads disabled: %v", err)
			storage = nil
		}
	} else {
		log.Printf("MINIO_ACCESS_KEY not set, evidence uploads disabled")
	}

	enqueuer, err := jobs.NewEnqueuer(cfg.RedisURL, dataStore)
	if err != nil {
		log.Fatalf("report queue init failed: %v", err)
	}
	defer enqueuer.Close()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     smtpFrom(cfg),
		BaseURL:  cfg.AppBaseURL,
	})

	deps := app.Deps{
		Cache:     cache,
		Sessions:  sessions,
		Search:    searchService,
		Revisions: revisions,
		Jobs:      enqueuer,
		Email:     mailer,
	}
	if storage != nil {
		deps.Storage = storage
	}
	service := app.New(cfg, dataStore, deps)

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("GreenLedger API listening on %s", cfg.Addr)
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

func smtpFrom(cfg config.Config) string {
	if cfg.SMTPFrom == "" {
		return ""
	}
	if cfg.SMTPFromName != "" {
		return cfg.SMTPFromName + " <" + cfg.SMTPFrom + ">"
	}
	return cfg.SMTPFrom
}
