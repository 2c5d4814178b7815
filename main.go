package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"investsim_backend/config"
	"investsim_backend/models"
	"investsim_backend/routes"
	"investsim_backend/scheduler"
	"investsim_backend/services/marketdata"
	"investsim_backend/services/provider"
	"investsim_backend/services/realtime"
	"investsim_backend/services/securities"
)

// dbInitialized tracks whether database has been successfully initialized
// so the /ready endpoint can report dynamically while startup runs in the
// background.
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  InvestSim Market Data Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Health endpoints first so the platform can detect the service is up
	// while the database initializes in the background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	var jobScheduler *scheduler.Scheduler
	var hub *realtime.Hub
	var archive *marketdata.Archive

	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := models.MigrateMarketDataModels(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		}
		if err := models.MigrateAdminModels(db); err != nil {
			log.Printf("ERROR: Admin migration failed: %v", err)
		}

		adminPassword := os.Getenv("ADMIN_PASSWORD")
		if adminPassword == "" {
			adminPassword = "change-me"
			log.Println("Warning: ADMIN_PASSWORD not set, using insecure default")
		}
		if err := models.SeedDefaultAdminUser(db, adminPassword); err != nil {
			log.Printf("Warning: Could not seed admin user: %v", err)
		}

		// Assemble the ingestion pipeline
		client := provider.NewFinnhubClient(
			cfg.Provider.BaseURL,
			cfg.Provider.APIKey,
			time.Duration(cfg.Provider.RequestTimeoutMS)*time.Millisecond,
		)
		resolver := securities.NewResolver(db, client)
		validator := marketdata.NewValidator(
			cfg.MarketData.MinValidPrice,
			cfg.MarketData.MaxValidPrice,
			cfg.MarketData.SignificantChangePercent,
		)
		fetcher := marketdata.NewFetcher(client, db, cfg.MarketData)
		store := marketdata.NewStore(db, fetcher, validator, resolver, cfg.MarketData)
		breaker := marketdata.NewCircuitBreaker(cfg.MarketData.FailureThreshold)
		updater := marketdata.NewBulkUpdater(store, breaker, cfg.MarketData)
		stats := marketdata.NewStatsService(db, breaker)

		hub = realtime.NewHub()
		store.OnPriceUpdate(hub.PublishSecurity)

		archive, err = marketdata.NewArchive(context.Background(), cfg.MongoURI)
		if err != nil {
			log.Printf("Warning: raw quote archive unavailable: %v", err)
		} else if archive != nil {
			store.SetArchive(archive)
		}

		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		routes.SetupRoutes(router, db, store, updater, stats, resolver, hub)

		jobScheduler = scheduler.NewScheduler(db, updater, store, resolver)
		jobScheduler.Start()

		log.Println("Market data pipeline ready")
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if jobScheduler != nil {
		jobScheduler.Stop()
	}
	if hub != nil {
		hub.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if archive != nil {
		if err := archive.Close(ctx); err != nil {
			log.Printf("Archive disconnect error: %v", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// setupHealthEndpoints registers liveness/readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		ready := dbInitialized
		dbInitMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// requestLogger logs each request with latency
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Round(time.Microsecond),
		)
	}
}
