package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/debacu/backend/internal/config"
	"github.com/debacu/backend/internal/handler"
	appMiddleware "github.com/debacu/backend/internal/middleware"
	"github.com/debacu/backend/internal/repository"
	"github.com/debacu/backend/internal/service"
	"github.com/debacu/backend/pkg/payment"
)

func main() {
	// Load .env file if present (for local development)
	loadDotEnv()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Database error: %v", err)
	}
	defer db.Close()

	// Run migrations and seed the plan catalog
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("❌ Migration error: %v", err)
	}
	if err := repository.SeedPlans(ctx, db, cfg.PlanCatalog()); err != nil {
		log.Fatalf("❌ Plan seed error: %v", err)
	}
	log.Println("✅ Database connected & migrated")

	// Payment gateway: real processor when configured, mock otherwise so
	// the service runs in development without credentials.
	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		log.Println("✅ Stripe gateway configured")
	} else {
		gateway = payment.NewMockGateway()
		log.Println("⚠️  No STRIPE_SECRET_KEY set, using mock payment gateway")
	}

	// Repositories
	accountRepo := repository.NewAccountRepository(db)
	planRepo := repository.NewPlanRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	eventRepo := repository.NewEventRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	// Services
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, accountRepo)
	if err := authSvc.SeedAdmin(ctx); err != nil {
		log.Fatalf("❌ Admin seed error: %v", err)
	}

	subSvc := service.NewSubscriptionService(subRepo, planRepo, eventRepo, accountRepo, gateway, cfg.ProductID, cfg.TrialDays)
	reconciler := service.NewReconcilerService(subRepo, invoiceRepo, eventRepo, gateway)
	maintenanceSvc := service.NewMaintenanceService(subRepo, eventRepo, cfg.GraceDays, cfg.AbandonedAfter, cfg.BatchLimit, cfg.MaintenanceInterval)

	// Start the daily maintenance scheduler
	maintenanceSvc.Start(ctx)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	healthHandler := handler.NewHealthHandler(db)
	plansHandler := handler.NewPlansHandler(planRepo)
	subHandler := handler.NewSubscriptionHandler(subSvc)
	webhookHandler := handler.NewWebhookHandler(reconciler, gateway)
	maintenanceHandler := handler.NewMaintenanceHandler(maintenanceSvc, cfg.CronSecret)
	adminHandler := handler.NewAdminHandler(eventRepo)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Cron-Secret"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.Handle) // Signature-verified, not token-authed

	// Scheduler entry point, authenticated by shared secret
	r.Post("/internal/maintenance/run", maintenanceHandler.Run)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/auth/me", authHandler.Me)

		r.Get("/api/subscription", subHandler.Get)
		r.Post("/api/subscription", subHandler.Change)
		r.Post("/api/subscription/trial", subHandler.StartTrial)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/events", adminHandler.ListEvents)
		})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()

		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Debacu Billing Backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}

// loadDotEnv reads a .env file if it exists (simple implementation).
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
