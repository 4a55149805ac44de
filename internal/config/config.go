// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// キャッシュのバックエンド。
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitInvite  int

	// Cache
	CacheBackend  string
	CacheMaxBytes int
	CacheTTL      time.Duration
	RedisURL      string

	// Realtime
	RealtimeChannel      string
	RealtimeMinReconnect time.Duration
	RealtimeMaxReconnect time.Duration

	// Storage
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseTLS    bool

	// Attachment
	AttachmentMaxSize int64

	// Cleanup
	InvitationRetentionDays int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInvite = getEnvInt("RATE_LIMIT_INVITE", 20)
	cfg.CacheBackend = strings.ToLower(getEnvString("CACHE_BACKEND", CacheBackendMemory))
	cfg.CacheMaxBytes = getEnvInt("CACHE_MAX_BYTES", 32<<20)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RealtimeChannel = getEnvString("REALTIME_CHANNEL", "taskboard_changes")
	cfg.RealtimeMinReconnect = getEnvDuration("REALTIME_MIN_RECONNECT", 10*time.Second)
	cfg.RealtimeMaxReconnect = getEnvDuration("REALTIME_MAX_RECONNECT", time.Minute)
	cfg.StorageEndpoint = getEnvString("STORAGE_ENDPOINT", "")
	cfg.StorageAccessKey = getEnvString("STORAGE_ACCESS_KEY", "")
	cfg.StorageSecretKey = getEnvString("STORAGE_SECRET_KEY", "")
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "assignment-attachments")
	cfg.StorageUseTLS = getEnvBool("STORAGE_USE_TLS", false)
	cfg.AttachmentMaxSize = getEnvInt64("ATTACHMENT_MAX_SIZE", 10<<20)
	cfg.InvitationRetentionDays = getEnvInt("INVITATION_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND: %q", cfg.CacheBackend)
	}

	return cfg, nil
}

// StorageEnabled は添付ファイル用のオブジェクトストレージが設定されているかを返す。
func (c *Config) StorageEnabled() bool {
	return c.StorageEndpoint != ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
