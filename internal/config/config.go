// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode は管理APIの認証モード。
type AuthMode string

const (
	// AuthModeEnforced は管理トークンによるBearer認証を必須とする（既定値）。
	AuthModeEnforced AuthMode = "enforced"
	// AuthModeDisabled は開発用に認証を無効化する。起動時に警告を出す。
	AuthModeDisabled AuthMode = "disabled"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Admin
	AdminAuthMode AuthMode
	AdminAPIToken string

	// Stripe
	StripeWebhookSecret string

	// Email
	ResendAPIKey   string
	AlertFromEmail string

	// Dispatch
	AlertMaxConcurrent int
	AlertSendTimeout   time.Duration
	AlertClaimTTL      time.Duration

	// Operator notification
	AdminNotifySlackWebhook string

	// Rate Limit (req/min/IP)
	RateLimitAdmin   int
	RateLimitWebhook int

	// CORS (カンマ区切りで複数指定可)
	CORSAllowedOrigin string

	// Maintenance
	BillingEventRetentionDays int
	CleanupInterval           time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}

	mode, err := parseAuthMode(os.Getenv("ADMIN_AUTH_MODE"))
	if err != nil {
		return nil, err
	}
	cfg.AdminAuthMode = mode
	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	if cfg.AdminAuthMode == AuthModeEnforced && cfg.AdminAPIToken == "" {
		missing = append(missing, "ADMIN_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.AlertFromEmail = getEnvString("ALERT_FROM_EMAIL", "alerts@strmonitor.com")
	cfg.AlertMaxConcurrent = getEnvInt("ALERT_MAX_CONCURRENT", 4)
	cfg.AlertSendTimeout = getEnvDuration("ALERT_SEND_TIMEOUT", 15*time.Second)
	cfg.AlertClaimTTL = getEnvDuration("ALERT_CLAIM_TTL", 15*time.Minute)
	cfg.AdminNotifySlackWebhook = os.Getenv("ADMIN_NOTIFY_SLACK_WEBHOOK")
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 60)
	cfg.RateLimitWebhook = getEnvInt("RATE_LIMIT_WEBHOOK", 300)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.BillingEventRetentionDays = getEnvInt("BILLING_EVENT_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)

	if cfg.AlertMaxConcurrent < 1 {
		cfg.AlertMaxConcurrent = 1
	}

	return cfg, nil
}

// UsesMockEmail はメール送信をモックで代替するかを返す。
func (c *Config) UsesMockEmail() bool {
	return c.ResendAPIKey == ""
}

func parseAuthMode(v string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", AuthModeEnforced:
		return AuthModeEnforced, nil
	case AuthModeDisabled:
		return AuthModeDisabled, nil
	default:
		return "", fmt.Errorf("invalid ADMIN_AUTH_MODE %q: must be %q or %q", v, AuthModeEnforced, AuthModeDisabled)
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
