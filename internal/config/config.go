// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultIdentityProviderURL は外部IDプロバイダのセッションデータ取得エンドポイント。
const DefaultIdentityProviderURL = "https://demobackend.emergentagent.com/auth/v1/env/oauth/session-data"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Worker（/metricsのみを公開する）
	WorkerMetricsPort string

	// Identity provider
	IdentityProviderURL     string
	IdentityProviderTimeout time.Duration

	// Session cleanup
	SessionRetention       time.Duration
	SessionCleanupInterval time.Duration

	// CORS
	CORSOrigins []string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitLogin   int

	// Chat
	ChatHistoryLimit int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envが存在しない場合は環境変数のみを使用する
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.IdentityProviderURL = getEnvString("IDENTITY_PROVIDER_URL", DefaultIdentityProviderURL)
	cfg.IdentityProviderTimeout = getEnvDuration("IDENTITY_PROVIDER_TIMEOUT", 10*time.Second)
	cfg.SessionRetention = getEnvDuration("SESSION_RETENTION", 0)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"*"})
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.ChatHistoryLimit = getEnvInt("CHAT_HISTORY_LIMIT", 50)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の範囲を検証する。
func (c *Config) validate() error {
	var invalid []string
	if c.IdentityProviderTimeout <= 0 {
		invalid = append(invalid, "IDENTITY_PROVIDER_TIMEOUT")
	}
	if c.SessionRetention < 0 {
		invalid = append(invalid, "SESSION_RETENTION")
	}
	if c.SessionCleanupInterval <= 0 {
		invalid = append(invalid, "SESSION_CLEANUP_INTERVAL")
	}
	if c.RateLimitGeneral <= 0 {
		invalid = append(invalid, "RATE_LIMIT_GENERAL")
	}
	if c.RateLimitLogin <= 0 {
		invalid = append(invalid, "RATE_LIMIT_LOGIN")
	}
	if c.ChatHistoryLimit < 1 || c.ChatHistoryLimit > 200 {
		invalid = append(invalid, "CHAT_HISTORY_LIMIT")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "LOG_LEVEL")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", invalid)
	}
	return nil
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

// getEnvList はカンマ区切りの値を空要素を除いて分割する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
