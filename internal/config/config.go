package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/debacu/backend/internal/domain"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	AdminEmail    string
	AdminPassword string

	ProductID string

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	CronSecret          string
	MaintenanceInterval time.Duration
	GraceDays           int
	TrialDays           int
	AbandonedAfter      time.Duration
	BatchLimit          int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,https://app.debacu.com"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	graceDays, _ := strconv.Atoi(getEnv("GRACE_DAYS", "3"))
	trialDays, _ := strconv.Atoi(getEnv("TRIAL_DAYS", "14"))
	batchLimit, _ := strconv.Atoi(getEnv("MAINTENANCE_BATCH_LIMIT", "1000"))

	interval, err := time.ParseDuration(getEnv("MAINTENANCE_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_INTERVAL: %w", err)
	}
	abandonedAfter, err := time.ParseDuration(getEnv("ABANDONED_PENDING_AFTER", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ABANDONED_PENDING_AFTER: %w", err)
	}

	return &Config{
		Port:        port,
		JWTSecret:   jwtSecret,
		DatabaseURL: dbURL,
		CORSOrigins: origins,

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@debacu.com"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),

		ProductID: getEnv("PRODUCT_ID", "DEBACU_EVAL"),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/billing/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/billing/cancel"),

		CronSecret:          getEnv("CRON_SECRET", ""),
		MaintenanceInterval: interval,
		GraceDays:           graceDays,
		TrialDays:           trialDays,
		AbandonedAfter:      abandonedAfter,
		BatchLimit:          batchLimit,
	}, nil
}

// PlanCatalog builds the seed catalog, reading the processor price ids
// from STRIPE_PRICE_<CODE>_<FREQUENCY> environment variables.
func (c *Config) PlanCatalog() []domain.Plan {
	return []domain.Plan{
		{
			ID:          "plan_free",
			Code:        domain.PlanFree,
			DisplayName: "Free Trial",
		},
		{
			ID:                   "plan_basic",
			Code:                 domain.PlanBasic,
			DisplayName:          "Basic",
			PriceMonthlyCents:    parseCents(getEnv("PLAN_BASIC_MONTHLY_CENTS", "2900")),
			ExternalPriceMonthly: getEnv("STRIPE_PRICE_BASIC_MONTHLY", ""),
			ExternalPriceYearly:  getEnv("STRIPE_PRICE_BASIC_YEARLY", ""),
		},
		{
			ID:                   "plan_medium",
			Code:                 domain.PlanMedium,
			DisplayName:          "Medium",
			PriceMonthlyCents:    parseCents(getEnv("PLAN_MEDIUM_MONTHLY_CENTS", "5900")),
			ExternalPriceMonthly: getEnv("STRIPE_PRICE_MEDIUM_MONTHLY", ""),
			ExternalPriceYearly:  getEnv("STRIPE_PRICE_MEDIUM_YEARLY", ""),
		},
		{
			ID:                   "plan_premium",
			Code:                 domain.PlanPremium,
			DisplayName:          "Premium",
			PriceMonthlyCents:    parseCents(getEnv("PLAN_PREMIUM_MONTHLY_CENTS", "9900")),
			ExternalPriceMonthly: getEnv("STRIPE_PRICE_PREMIUM_MONTHLY", ""),
			ExternalPriceYearly:  getEnv("STRIPE_PRICE_PREMIUM_YEARLY", ""),
		},
	}
}

func parseCents(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
