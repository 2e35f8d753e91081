package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/logtide-dev/logtide/internal/api"
	"github.com/logtide-dev/logtide/internal/config"
	"github.com/logtide-dev/logtide/internal/detection"
	"github.com/logtide-dev/logtide/internal/incident"
	"github.com/logtide-dev/logtide/internal/ingest"
	"github.com/logtide-dev/logtide/internal/jobs"
	"github.com/logtide-dev/logtide/internal/notify"
	"github.com/logtide-dev/logtide/internal/store"
)

func main() {
	log.Println("🔥 Starting LogTide backend...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	// 1. Primary store
	st, err := store.Open(cfg.Queue.DBURL)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("❌ Schema migration failed: %v", err)
	}

	// 2. Job system
	supervisor, err := jobs.NewSupervisor(jobs.SupervisorConfig{
		Backend:      string(cfg.Queue.Backend),
		DB:           st.DB(),
		KVURL:        cfg.Queue.KVURL,
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("❌ Queue setup failed: %v", err)
	}
	defer supervisor.Shutdown()

	scanQueue, err := supervisor.Queue(ingest.TaskDetectionScan)
	if err != nil {
		log.Fatalf("❌ Queue setup failed: %v", err)
	}

	// 3. Detection pipeline
	catalog := detection.NewCatalog()
	evaluator := detection.NewEvaluator(catalog, st)
	correlator := incident.NewCorrelator(st, incident.DefaultWindow)
	scanner := ingest.NewScanner(st, evaluator, correlator)

	if _, err := supervisor.Worker(ingest.TaskDetectionScan, scanner.Process, jobs.WorkerEvents{
		OnFailed: func(job *jobs.Job, err error) {
			log.Printf("❌ Detection scan %s exhausted retries: %v", job.ID, err)
		},
		OnError: func(err error) {
			log.Printf("⚠️  Queue error: %v", err)
		},
	}); err != nil {
		log.Fatalf("❌ Worker setup failed: %v", err)
	}
	if err := supervisor.Start(); err != nil {
		log.Fatalf("❌ Queue start failed: %v", err)
	}

	// 4. Live stream
	registry := notify.NewRegistry()
	listener := notify.NewListener(registry, cfg.Listener.MaxReconnectAttempts)
	listener.OnTerminalError(func(err error) {
		log.Printf("❌ Live stream is down: %v", err)
	})
	if err := listener.Initialize(cfg.Queue.DBURL); err != nil {
		log.Fatalf("❌ Listener setup failed: %v", err)
	}
	defer listener.Shutdown()

	// 5. Write path
	publisher := notify.NewPublisher(st.DB())
	writer := ingest.NewWriter(st, publisher, scanQueue, cfg.Ingest.MaxBatchSize, cfg.Ingest.AsyncWorkers)
	defer writer.Close()

	// 6. HTTP surface, runs until SIGINT/SIGTERM.
	server := api.NewServer(st, writer, catalog, evaluator, supervisor, listener)
	if err := server.Start(ctx, cfg.Server.Port); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
