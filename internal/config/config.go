package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数（およびCONFIG_FILEで指定したYAML）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Payment
	PaymentProofMaxSize int64
	Currency            string

	// Outbox
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int

	// Catalog import
	CatalogFetchTimeout       time.Duration
	CatalogFetchMaxSize       int64
	CatalogFetchMaxConcurrent int
	CatalogFetchInterval      time.Duration
	CatalogDefaultStock       int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitCheckout int

	// Cleanup
	NotificationRetentionDays int
	OutboxRetentionDays       int

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Server
	ServerPort string
	BaseURL    string

	// WorkerMetricsPort はワーカーが/metricsを公開するポート。空の場合は公開しない。
	WorkerMetricsPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// requiredKeys は起動に必須の設定キー。
var requiredKeys = []string{
	"DATABASE_URL",
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URL",
	"SESSION_SECRET",
	"BASE_URL",
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILEが設定されている場合は先にYAMLファイルを読み込み、環境変数で上書きする。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Required fields
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
		SessionSecret:      v.GetString("SESSION_SECRET"),
		BaseURL:            v.GetString("BASE_URL"),
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getInt(v, "DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getInt(v, "DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getDuration(v, "DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionMaxAge = getInt(v, "SESSION_MAX_AGE", 86400)
	cfg.PaymentProofMaxSize = getInt64(v, "PAYMENT_PROOF_MAX_SIZE", 5242880)
	cfg.Currency = getString(v, "CURRENCY", "USD")
	cfg.OutboxInterval = getDuration(v, "OUTBOX_INTERVAL", 5*time.Second)
	cfg.OutboxBatchSize = getInt(v, "OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxAttempts = getInt(v, "OUTBOX_MAX_ATTEMPTS", 10)
	cfg.CatalogFetchTimeout = getDuration(v, "CATALOG_FETCH_TIMEOUT", 10*time.Second)
	cfg.CatalogFetchMaxSize = getInt64(v, "CATALOG_FETCH_MAX_SIZE", 5242880)
	cfg.CatalogFetchMaxConcurrent = getInt(v, "CATALOG_FETCH_MAX_CONCURRENT", 5)
	cfg.CatalogFetchInterval = getDuration(v, "CATALOG_FETCH_INTERVAL", 5*time.Minute)
	cfg.CatalogDefaultStock = getInt(v, "CATALOG_DEFAULT_STOCK", 1)
	cfg.RateLimitGeneral = getInt(v, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getInt(v, "RATE_LIMIT_CHECKOUT", 10)
	cfg.NotificationRetentionDays = getInt(v, "NOTIFICATION_RETENTION_DAYS", 90)
	cfg.OutboxRetentionDays = getInt(v, "OUTBOX_RETENTION_DAYS", 14)
	cfg.LogLevel = getString(v, "LOG_LEVEL", "info")
	cfg.LogFile = getString(v, "LOG_FILE", "")
	cfg.LogMaxSizeMB = getInt(v, "LOG_MAX_SIZE_MB", 100)
	cfg.LogMaxBackups = getInt(v, "LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getInt(v, "LOG_MAX_AGE_DAYS", 28)
	cfg.ServerPort = getString(v, "SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = v.GetString("WORKER_METRICS_PORT")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getString(v, "COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getString(v, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getString(v *viper.Viper, key, defaultVal string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return defaultVal
}

func getInt(v *viper.Viper, key string, defaultVal int) int {
	s := v.GetString(key)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return i
}

func getInt64(v *viper.Viper, key string, defaultVal int64) int64 {
	s := v.GetString(key)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	s := v.GetString(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
