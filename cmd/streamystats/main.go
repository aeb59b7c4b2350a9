package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tam1m/streamystats-sub003/internal/api"
	"github.com/tam1m/streamystats-sub003/internal/config"
	"github.com/tam1m/streamystats-sub003/internal/db"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/jobs"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/reconcile"
	"github.com/tam1m/streamystats-sub003/internal/repository"
	"github.com/tam1m/streamystats-sub003/internal/scheduler"
	"github.com/tam1m/streamystats-sub003/internal/sessions"
	"github.com/tam1m/streamystats-sub003/internal/stats"
	syncsvc "github.com/tam1m/streamystats-sub003/internal/sync"
	"github.com/tam1m/streamystats-sub003/internal/version"
)

func main() {
	ver := version.Load()
	log.Printf("streamystats %s starting...", ver.Version)

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database, "migrations"); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	cfg.MergeFromDB(database)

	serverRepo := repository.NewServerRepository(database)
	userRepo := repository.NewUserRepository(database)
	libRepo := repository.NewLibraryRepository(database)
	itemRepo := repository.NewItemRepository(database)
	sessRepo := repository.NewSessionRepository(database)
	activityRepo := repository.NewActivityRepository(database)
	runRepo := repository.NewRunRepository(database)

	if cfg.SeedServerConfigured() {
		seed := &models.Server{
			Name:     cfg.ServerName,
			BaseURL:  cfg.JellyfinURL,
			APIKey:   cfg.JellyfinAPIKey,
			Timezone: cfg.ServerTimezone,
		}
		if err := serverRepo.Upsert(seed); err != nil {
			log.Fatalf("registering configured server failed: %v", err)
		}
		log.Printf("server %q registered as %s", seed.Name, seed.ID)
	}

	cache := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer cache.Close()

	timeout := time.Duration(cfg.SourceTimeoutSecs) * time.Second
	newClient := func(server *models.Server) *jellyfin.Client {
		return jellyfin.NewClient(server.BaseURL, server.APIKey, cfg.PageSize, cfg.SourceRPS, timeout)
	}

	reconciler := reconcile.New(userRepo, libRepo, itemRepo, sessRepo, activityRepo)

	queue := jobs.NewQueue(cfg.RedisAddr)
	worker := syncsvc.NewWorker(runRepo, serverRepo, userRepo, libRepo, reconciler,
		func(server *models.Server) syncsvc.Source { return newClient(server) })
	worker.Register(queue)
	if err := queue.Start(context.Background()); err != nil {
		log.Fatalf("job queue failed to start: %v", err)
	}
	defer queue.Stop()

	syncService := syncsvc.NewService(runRepo, serverRepo, queue)
	statsService := stats.NewService(serverRepo, sessRepo, itemRepo, userRepo, libRepo, runRepo, cache)
	statusService := jobs.NewStatusService(serverRepo, runRepo)
	monitor := sessions.NewMonitor(serverRepo,
		func(server *models.Server) sessions.SessionSource { return newClient(server) })

	sched := scheduler.New(syncService, serverRepo, cfg.PartialSyncMinutes, cfg.FullSyncCron)
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler failed to start: %v", err)
	}
	defer sched.Stop()

	srv := api.NewServer(serverRepo, runRepo, activityRepo, syncService, statsService, statusService, monitor)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}
