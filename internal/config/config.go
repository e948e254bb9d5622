package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// SMTP（メールトランスポート）
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string

	// Web Push（VAPID）
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	// Google Calendar（OAuthクライアント）
	GoogleClientID     string
	GoogleClientSecret string

	// トランスポート共通
	SendTimeout time.Duration
	PushTTL     int

	// Rate Limit（req/sec）
	RateLimitGeneral  int
	RateLimitReminder int

	// クリーンアップ
	CleanupSchedule   string
	ReminderRetention time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := []struct {
		key  string
		dest *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"SMTP_HOST", &cfg.SMTPHost},
		{"SMTP_USER", &cfg.SMTPUser},
		{"SMTP_PASSWORD", &cfg.SMTPPassword},
		{"EMAIL_FROM", &cfg.EmailFrom},
		{"VAPID_PUBLIC_KEY", &cfg.VAPIDPublicKey},
		{"VAPID_PRIVATE_KEY", &cfg.VAPIDPrivateKey},
		{"VAPID_SUBSCRIBER", &cfg.VAPIDSubscriber},
		{"GOOGLE_CLIENT_ID", &cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret},
	}

	for _, r := range required {
		*r.dest = os.Getenv(r.key)
		if *r.dest == "" {
			missing = append(missing, r.key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SendTimeout = getEnvDuration("SEND_TIMEOUT", 30*time.Second)
	cfg.PushTTL = getEnvInt("PUSH_TTL", 3600)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitReminder = getEnvInt("RATE_LIMIT_REMINDER", 30)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 4 * * *")
	cfg.ReminderRetention = getEnvDuration("REMINDER_RETENTION", 30*24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
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
