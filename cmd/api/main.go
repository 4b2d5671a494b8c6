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

	"liveboard/api/internal/app"
	"liveboard/api/internal/archive"
	"liveboard/api/internal/board"
	"liveboard/api/internal/config"
	"liveboard/api/internal/docstore"
	"liveboard/api/internal/draft"
	"liveboard/api/internal/export"
	"liveboard/api/internal/history"
	"liveboard/api/internal/identity"
	"liveboard/api/internal/search"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := docstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := docstore.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	feed, err := docstore.NewRedisFeed(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	store := docstore.NewPublishingStore(docstore.NewPostgres(db), feed)

	records, err := identity.NewRedisRecords(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis session store failed: %v", err)
	}
	provider := identity.NewLocalProvider(identity.NewPostgresUsers(db), records, cfg.SessionTTL)

	paths := board.NewPaths(cfg.AppID)

	pgfts := search.NewPgFTS(db, paths.Questions())
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var archiver board.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := archive.NewMinio(ctx, archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("archive connection failed: %v", err)
		}
		archiver = minioArchive
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}
	journal := history.NewJournal(cfg.HistoryDir)

	service := app.NewService(app.Deps{
		DB:       db,
		Provider: provider,
		Store:    store,
		Feed:     feed,
		Paths:    paths,
		AppID:    cfg.AppID,
		Draft: draft.Config{
			Endpoint:       cfg.DraftEndpoint,
			APIKey:         cfg.DraftAPIKey,
			PromptTemplate: cfg.DraftPromptTemplate,
			Timeout:        cfg.DraftTimeout,
		},
		Search:   searchService,
		Archive:  archiver,
		Journal:  journal,
		Exporter: export.NewService(),
	})
	defer service.Close()

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
		log.Printf("Liveboard API listening on %s", cfg.Addr)
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
