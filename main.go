package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querylab/orchestrator/api"
	"github.com/querylab/orchestrator/config"
	"github.com/querylab/orchestrator/metrics"
	"github.com/querylab/orchestrator/planner"
	"github.com/querylab/orchestrator/policy"
	"github.com/querylab/orchestrator/runtime"
	"github.com/querylab/orchestrator/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Default engine: %s", cfg.DefaultEngine)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize approval policy
	ctx := context.Background()
	var approvalPolicy policy.ApprovalPolicy = policy.MarkerPolicy{}
	if cfg.PolicyFile != "" {
		content, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			log.Fatalf("Failed to read policy file: %v", err)
		}
		engine, err := policy.NewEngine(ctx, string(content))
		if err != nil {
			log.Fatalf("Failed to initialize policy engine: %v", err)
		}
		approvalPolicy = engine
		log.Printf("Using rego approval policy from %s", cfg.PolicyFile)
	}

	// Initialize plan builders
	builders := map[string]planner.Builder{
		planner.EngineStatic: planner.NewStaticBuilder(),
		planner.EngineLLM:    planner.NewLLMBuilder(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout),
	}

	// Initialize metrics and registry
	m := metrics.New("orchestrator", prometheus.DefaultRegisterer)
	registry := runtime.NewRegistry(cfg, db, approvalPolicy, builders, m)

	// Initialize handler
	h := api.NewHandler(registry)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Orchestrator API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
