package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/dukerupert/replypilot/internal/backup"
	"github.com/dukerupert/replypilot/internal/handler"
	"github.com/dukerupert/replypilot/internal/llm"
	"github.com/dukerupert/replypilot/internal/middleware"
	"github.com/dukerupert/replypilot/internal/store"
	stripeclient "github.com/dukerupert/replypilot/internal/stripe"
)

// Config carries the wiring the server cannot derive itself.
type Config struct {
	BaseURL          string
	AllowedOrigins   []string
	GmailAddonSecret string
	SharedSecret     string
}

type Server struct {
	db            *sql.DB
	cfg           Config
	webhookH      *handler.WebhookHandler
	billingH      *handler.BillingHandler
	gmailH        *handler.GmailStatusHandler
	generateH     *handler.GenerateHandler
	historyH      *handler.HistoryHandler
	backupH       *handler.BackupHandler
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, stripeClient *stripeclient.Client, generator *llm.Generator, cfg Config, backupCfg backup.Config, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	replyStore := store.NewReplyStore(db)
	backupStore := store.NewBackupStore(db)

	backupMgr := backup.NewManager(backupCfg, db, backupStore, logger.With("component", "backup"))

	return &Server{
		db:            db,
		cfg:           cfg,
		webhookH:      handler.NewWebhookHandler(stripeClient, accountStore, logger.With("component", "webhook")),
		billingH:      handler.NewBillingHandler(stripeClient, accountStore, cfg.BaseURL, logger.With("component", "billing")),
		gmailH:        handler.NewGmailStatusHandler(accountStore, cfg.GmailAddonSecret, logger.With("component", "gmail")),
		generateH:     handler.NewGenerateHandler(generator, replyStore, logger.With("component", "generate")),
		historyH:      handler.NewHistoryHandler(replyStore, logger.With("component", "history")),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup_admin")),
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupMgr,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Billing endpoints, called by the web app's backend.
	mux.HandleFunc("GET /billing/status", s.billingH.Status)
	mux.HandleFunc("POST /stripe/checkout", s.billingH.Checkout)
	mux.HandleFunc("POST /stripe/portal", s.billingH.Portal)
	mux.HandleFunc("POST /stripe/cancel", s.billingH.Cancel)

	// Stripe calls this; verification is inside the handler.
	mux.HandleFunc("POST /stripe/webhook", s.webhookH.HandleStripeWebhook)

	// The Gmail add-on authenticates per request with a timestamped HMAC.
	mux.Handle("POST /subscription-status-gmail",
		s.rateLimited(20, time.Minute)(http.HandlerFunc(s.gmailH.Status)))

	// Browser extension surface: shared secret plus a CORS allow-list, since
	// the callers are content scripts on third-party origins.
	extension := http.NewServeMux()
	extension.Handle("POST /emailresponder/generate",
		s.rateLimited(30, time.Minute)(http.HandlerFunc(s.generateH.Generate)))
	extension.HandleFunc("GET /history", s.historyH.List)
	extension.HandleFunc("DELETE /history", s.historyH.Clear)
	extension.HandleFunc("DELETE /history/{id}", s.historyH.Delete)

	corsOpts := cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "x-shared-secret"},
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		// rs/cors treats an empty allow-list as allow-all. We want the
		// opposite: no configured origins means no cross-origin callers.
		corsOpts.AllowOriginFunc = func(origin string) bool { return false }
		s.logger.Warn("no allowed origins configured, rejecting all cross-origin requests")
	}
	corsWrapper := cors.New(corsOpts)
	guard := middleware.SharedSecret(s.cfg.SharedSecret)
	mux.Handle("/emailresponder/", corsWrapper.Handler(guard(extension)))
	mux.Handle("/history", corsWrapper.Handler(guard(extension)))
	mux.Handle("/history/", corsWrapper.Handler(guard(extension)))

	// Operator-only backup surface, behind the same shared secret.
	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/backup/status", s.backupH.Status)
	admin.HandleFunc("POST /admin/backup/run", s.backupH.Run)
	admin.HandleFunc("POST /admin/backup/restore/{id}", s.backupH.Restore)
	mux.Handle("/admin/", guard(admin))

	mux.HandleFunc("GET /health", s.healthHandler)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(limit int, dur time.Duration) func(http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, limit, dur)
}
