package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/inkhaven/platform/internal/api"
	"github.com/inkhaven/platform/internal/config"
	"github.com/inkhaven/platform/internal/events"
	"github.com/inkhaven/platform/internal/pkg/distlock"
	"github.com/inkhaven/platform/internal/repository/postgres"
	"github.com/inkhaven/platform/internal/service/programs"
	"github.com/inkhaven/platform/internal/worker"
)

func main() {
	log.Println("Starting Inkhaven platform server...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unavailable (%v), falling back to advisory locks", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
	}

	repo := postgres.NewProgramsRepository(db)
	gateway := events.NewClient(cfg.Gateway)

	queue := programs.NewSyncQueue(repo)
	dispatcher := programs.NewSyncDispatcher(queue, gateway)
	reminders := programs.NewReminderDispatcher(repo, gateway)
	cohorts := programs.NewCohortTransitioner(repo)
	kpis := programs.NewKpiAggregator(repo, func(key string) distlock.DistLock {
		return distlock.New(redisClient, db, key, 5*time.Minute)
	})
	matcher := programs.NewMatcher(repo)

	scheduler := worker.NewScheduler(dispatcher, reminders, cohorts, kpis, worker.Config{
		Enabled:                cfg.Scheduler.Enabled,
		Interval:               cfg.Scheduler.Interval(),
		SyncBatchLimit:         cfg.Scheduler.SyncBatchLimit,
		ReminderLimit:          cfg.Scheduler.ReminderLimit,
		ApplicationAgeMinutes:  cfg.Scheduler.ApplicationAgeMinutes,
		SessionHorizonMinutes:  cfg.Scheduler.SessionHorizonMinutes,
		SessionLookbackMinutes: cfg.Scheduler.SessionLookbackMinutes,
	})
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handlers := api.NewHandlers(queue, matcher, repo, scheduler)
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
