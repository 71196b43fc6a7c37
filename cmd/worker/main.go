package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/inkhaven/platform/internal/config"
	"github.com/inkhaven/platform/internal/events"
	"github.com/inkhaven/platform/internal/pkg/distlock"
	"github.com/inkhaven/platform/internal/repository/postgres"
	"github.com/inkhaven/platform/internal/service/programs"
	"github.com/inkhaven/platform/internal/worker"
)

// Standalone scheduler process for deployments that keep the API replicas
// free of background work. Safe to run alongside the server's scheduler:
// the queue claim and the idempotent reminder/cohort writes tolerate
// concurrent runners.
func main() {
	log.Println("Starting Inkhaven programs worker...")

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

	scheduler := worker.NewScheduler(dispatcher, reminders, cohorts, kpis, worker.Config{
		Enabled:                true, // a dedicated worker always ticks
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
	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	scheduler.Stop()
	log.Println("Worker stopped")
}
