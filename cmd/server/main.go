package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chitchat-labs/backend/internal/api"
	"github.com/chitchat-labs/backend/internal/blob"
	"github.com/chitchat-labs/backend/internal/config"
	"github.com/chitchat-labs/backend/internal/core"
	"github.com/chitchat-labs/backend/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logLevel := slog.LevelInfo
	if config.AppConfig.LogLevel == "DEBUG" {
		logLevel = slog.LevelDebug
		log.Println("Service starting in DEBUG mode")
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Command line flags for resource ingestion
	ingestFile := flag.String("ingest", "", "Ingest a text file as a RAG resource and exit")
	ingestOwner := flag.String("owner", "", "User id owning the ingested resource (with -ingest)")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Handle resource ingestion if requested
	if *ingestFile != "" {
		ownerID, err := strconv.ParseInt(*ingestOwner, 10, 64)
		if err != nil {
			log.Fatalf("-ingest requires -owner with a numeric user id")
		}
		log.Printf("Starting ingestion of %s for user %d...", *ingestFile, ownerID)
		embedder := func(text string) ([]float32, error) {
			return llmService.Embed(context.Background(), text)
		}
		resourceID, count, err := dbStore.IngestResourceFromFile(ownerID, *ingestFile, embedder)
		if err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		log.Printf("Ingestion complete. Resource %s now has %d chunks. Exiting.", resourceID, count)
		os.Exit(0)
	}

	// Initialize media blob store
	blobStore, err := blob.NewFSStore(config.AppConfig.MediaDir)
	if err != nil {
		log.Fatalf("Failed to initialize media store: %v", err)
	}

	// Initialize retriever and chat service
	retriever := core.NewRetriever(dbStore, llmService, config.AppConfig.SimilarityThreshold, config.AppConfig.MaxContextChunks)
	chatService := core.NewChatService(dbStore, dbStore, llmService, retriever, config.AppConfig.HistoryWindow)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, blobStore, dbStore)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: chat responses stream over long-lived connections.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give in-flight streams time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
