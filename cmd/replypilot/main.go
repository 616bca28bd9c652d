package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/replypilot/internal/backup"
	"github.com/dukerupert/replypilot/internal/database"
	"github.com/dukerupert/replypilot/internal/llm"
	"github.com/dukerupert/replypilot/internal/logging"
	"github.com/dukerupert/replypilot/internal/server"
	stripeclient "github.com/dukerupert/replypilot/internal/stripe"
)

func main() {
	// Missing .env is fine in production; everything comes from the real env.
	godotenv.Load()

	logger := logging.Setup(os.Getenv("REPLYPILOT_LOG_LEVEL"))

	port := envDefault("REPLYPILOT_PORT", "8080")
	dbPath := envDefault("REPLYPILOT_DB_PATH", "replypilot.db")
	baseURL := envDefault("REPLYPILOT_BASE_URL", "http://localhost:"+port)

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stripeClient := stripeclient.NewClient(stripeclient.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceID:       os.Getenv("STRIPE_PRICE_ID"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator, err := llm.NewGenerator(ctx, llm.Config{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	})
	if err != nil {
		logger.Error("init generator", "error", err)
		os.Exit(1)
	}
	defer generator.Close()
	if !generator.Configured() {
		logger.Warn("no GEMINI_API_KEY set, serving fallback replies only")
	}

	srvCfg := server.Config{
		BaseURL:          baseURL,
		AllowedOrigins:   splitOrigins(os.Getenv("REPLYPILOT_ALLOWED_ORIGINS")),
		GmailAddonSecret: os.Getenv("GMAIL_ADDON_SECRET"),
		SharedSecret:     os.Getenv("SHARED_SECRET"),
	}

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("REPLYPILOT_S3_ENDPOINT"),
			Bucket:    os.Getenv("REPLYPILOT_S3_BUCKET"),
			Region:    envDefault("REPLYPILOT_S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("REPLYPILOT_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("REPLYPILOT_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("REPLYPILOT_BACKUP_PASSPHRASE"),
		Interval:      24 * time.Hour,
		RetentionDays: envInt("REPLYPILOT_BACKUP_RETENTION_DAYS", 30),
	}

	srv := server.New(db, stripeClient, generator, srvCfg, backupCfg, logger)

	if srv.BackupManager().Enabled() {
		srv.BackupManager().Start(ctx)
		defer srv.BackupManager().Stop()
	}

	// Drop idle rate-limit windows so the map doesn't grow unbounded.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("replypilot listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
