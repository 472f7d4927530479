package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atrium/api/internal/app"
	"atrium/api/internal/authn"
	"atrium/api/internal/config"
	"atrium/api/internal/logger"
	"atrium/api/internal/scheduler"
	"atrium/api/internal/search"
	"atrium/api/internal/session"
	"atrium/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", logger.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal("apply migrations", logger.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Fatal("connect redis", logger.Error(err))
	}
	defer sessions.Close()

	var meiliClient *search.Meili
	if cfg.MeiliURL != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), log)
	go func() {
		// Give the Meilisearch health probe a beat before seeding the indexes.
		time.Sleep(5 * time.Second)
		searchService.ReindexAll(ctx)
	}()

	service := app.New(cfg, dataStore, sessions, authn.NewService(dataStore), searchService, log)

	sweeper := scheduler.NewSweeper(dataStore, service, cfg.SweepInterval, cfg.SweepWindow, log)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", logger.String("addr", cfg.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", logger.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", logger.Error(err))
	}
}
