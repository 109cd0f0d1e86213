package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidora/vidora/internal/api"
	"github.com/vidora/vidora/internal/billing"
	"github.com/vidora/vidora/internal/config"
	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/jobs"
	"github.com/vidora/vidora/internal/queue"
	"github.com/vidora/vidora/internal/services"
	"github.com/vidora/vidora/internal/storage"
	"github.com/vidora/vidora/internal/worker"
)

func main() {
	log.Println("Starting Vidora API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase storage")

	// Initialize generation providers
	heygenSvc := services.NewHeyGenService(cfg.HeyGenKey)
	veoSvc, err := services.NewVeoService(context.Background(), cfg.GeminiKey)
	if err != nil {
		log.Fatalf("Failed to initialize Veo client: %v", err)
	}
	fluxSvc := services.NewFluxService(cfg.BFLKey)
	replicateSvc := services.NewReplicateService(cfg.ReplicateToken)
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
	catalog := services.NewCatalogCache(heygenSvc)

	// The reconciler drives job state for both client polls and the worker
	reconciler := jobs.New(database, stor, jobs.Providers{
		Avatar: heygenSvc,
		Video:  veoSvc,
		Image:  fluxSvc,
		Music:  replicateSvc,
	})

	billingSvc := billing.New(database, cfg.BillingWebhookSecret)

	// Create API handler
	handler := api.NewHandler(database, q, reconciler, heygenSvc, veoSvc, fluxSvc, replicateSvc, openaiSvc, catalog, billingSvc)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background reconciliation...")

		w := worker.New(q, reconciler)

		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
