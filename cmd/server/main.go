package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gwi.com/insight-chat/internal/api"
	"gwi.com/insight-chat/internal/config"
	"gwi.com/insight-chat/internal/core"
	"gwi.com/insight-chat/internal/observability"
	"gwi.com/insight-chat/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for sample data ingestion
	ingestFile := flag.String("ingest", "", "Load the sample dataset from a markdown table file and exit")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	if *ingestFile != "" {
		log.Printf("Starting sample data ingestion from %s...", *ingestFile)
		n, err := dbStore.IngestSampleDataFromFile(*ingestFile)
		if err != nil {
			log.Fatalf("Data ingestion failed: %v", err)
		}
		log.Printf("Data ingestion complete. Ingested %d rows. Exiting.", n)
		dbStore.Close()
		os.Exit(0)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	if !core.IsKnownModel(config.AppConfig.DefaultModel) {
		log.Fatalf("DEFAULT_MODEL %q is not one of %v", config.AppConfig.DefaultModel, core.KnownModels)
	}

	backend := core.NewModelRouter(newFallbackBackend(config.AppConfig))

	if config.AppConfig.GeminiAPIKey != "" {
		grounding, err := core.NewGroundingService(dbStore)
		if err != nil {
			log.Fatalf("Failed to initialize grounding service: %v", err)
		}
		llmService, err := core.NewLLMService(context.Background(), config.AppConfig.GeminiAPIKey, grounding)
		if err != nil {
			log.Fatalf("Failed to initialize LLM service: %v", err)
		}
		defer llmService.Close()
		backend.Route("gemini-", llmService)
	}

	conversations := core.NewConversationService(dbStore, backend, metrics, core.ConversationOptions{
		DefaultModel:      config.AppConfig.DefaultModel,
		HighlightDuration: config.AppConfig.HighlightDuration,
		SettleDelay:       config.AppConfig.SettleDelay,
	})

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(conversations, core.NewDatasetService(dbStore), metrics, config.AppConfig.PreviewRows)
	router := api.NewRouter(apiHandler, promhttp.Handler())

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.AppConfig.BackendTimeout + 15*time.Second, // ?wait=true holds the response for the whole analysis
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing the conversations first ends websocket subscriptions, which
	// Shutdown does not wait for.
	conversations.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}

// newFallbackBackend builds the backend that handles every model unless a more
// specific route claims it. The mock wins over a configured service URL.
func newFallbackBackend(cfg config.Config) core.AnalysisBackend {
	switch {
	case cfg.UseMockBackend:
		log.Println("Using the mock analysis backend")
		return core.NewMockBackend(time.Second)
	case cfg.AnalysisAPIURL != "":
		return core.NewHTTPBackend(cfg.AnalysisAPIURL, cfg.AnalysisAPIKey, cfg.BackendTimeout)
	}
	return nil
}
