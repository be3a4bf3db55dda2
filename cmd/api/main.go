package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packfresh/intakego/internal/config"
	"github.com/packfresh/intakego/internal/database"
	"github.com/packfresh/intakego/internal/handlers"
	"github.com/packfresh/intakego/internal/intake"
	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/pricing"
	ws "github.com/packfresh/intakego/internal/websocket"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Env == "development" {
		log.SetLevel(logrus.DebugLevel)
	}

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-migrate schema
	log.Info("Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.UserAuth{},
		&models.ProductMapping{},
		&models.IntakeSession{},
		&models.IntakeItem{},
		&models.SealedCogs{},
		&models.CogsHistory{},
		&models.RawCard{},
		&models.StorageBox{},
		&models.CardAuditLog{},
	)
	if err != nil {
		log.Warnf("Migration warning: %v", err)
	} else {
		log.Info("Schema synchronized successfully")
	}

	// 4. Wire services
	svc := intake.NewService(db.DB, log, cfg.Intake.MappingConflictPolicy)

	priceClient := pricing.NewClient(cfg.Pricing.BaseURL, cfg.Pricing.APIKey, cfg.Pricing.Timeout, log)
	if cfg.Pricing.APIKey == "" {
		log.Warn("No price tracker API key configured, price lookups disabled")
	}

	hub := ws.NewHub(log)
	go hub.Run()

	router := handlers.NewRouter(db, cfg, log, svc, priceClient, hub)

	// 5. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Infof("Intake server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Infof("Received signal: %v. Shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}

	log.Info("Closing database connection...")
	if err := db.Close(); err != nil {
		log.Warnf("Database close error: %v", err)
	}

	log.Info("Shutdown complete")
}
