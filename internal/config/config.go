// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ストレージドライバー
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// PostgresMaxQuestionLength はquestions.contentカラム（VARCHAR(500)）に保存できる最大文字数。
const PostgresMaxQuestionLength = 500

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string

	// Session
	SessionMaxAge        int // 秒
	SessionRetentionDays int
	BcryptCost           int

	// Rate Limit（req/min）
	RateLimitGeneral        int
	RateLimitQuestionCreate int

	// Question
	QuestionMaxLength int

	// Token cache
	RedisURL      string
	TokenCacheTTL time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// defaults は各設定キーの既定値。
var defaults = map[string]any{
	"STORAGE_DRIVER":             StorageDriverPostgres,
	"SESSION_MAX_AGE":            86400,
	"SESSION_RETENTION_DAYS":     30,
	"BCRYPT_COST":                10,
	"RATE_LIMIT_GENERAL":         120,
	"RATE_LIMIT_QUESTION_CREATE": 10,
	"QUESTION_MAX_LENGTH":        500,
	"TOKEN_CACHE_TTL":            5 * time.Minute,
	"LOG_LEVEL":                  "info",
	"SERVER_PORT":                "8080",
	"CORS_ALLOWED_ORIGIN":        "http://localhost:3000",
}

// Load は環境変数（およびCONFIG_FILEで指定されたYAMLファイル）からConfigを読み込む。
// 環境変数はファイルの値より優先される。必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		StorageDriver:           strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		SessionMaxAge:           positiveInt(v, "SESSION_MAX_AGE"),
		SessionRetentionDays:    positiveInt(v, "SESSION_RETENTION_DAYS"),
		BcryptCost:              positiveInt(v, "BCRYPT_COST"),
		RateLimitGeneral:        positiveInt(v, "RATE_LIMIT_GENERAL"),
		RateLimitQuestionCreate: positiveInt(v, "RATE_LIMIT_QUESTION_CREATE"),
		QuestionMaxLength:       positiveInt(v, "QUESTION_MAX_LENGTH"),
		RedisURL:                v.GetString("REDIS_URL"),
		TokenCacheTTL:           positiveDuration(v, "TOKEN_CACHE_TTL"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		ServerPort:              v.GetString("SERVER_PORT"),
		CORSAllowedOrigin:       v.GetString("CORS_ALLOWED_ORIGIN"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UseMemoryStorage はインメモリストレージで動作するかどうかを返す。
func (c *Config) UseMemoryStorage() bool {
	return c.StorageDriver == StorageDriverMemory
}

// TokenCacheEnabled はRedisトークンキャッシュを使用するかどうかを返す。
func (c *Config) TokenCacheEnabled() bool {
	return c.RedisURL != ""
}

func (c *Config) validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("required environment variables are not set: [DATABASE_URL]"))
		}
		if c.QuestionMaxLength > PostgresMaxQuestionLength {
			errs = append(errs, fmt.Errorf("QUESTION_MAX_LENGTH must be at most %d with STORAGE_DRIVER=postgres, got %d",
				PostgresMaxQuestionLength, c.QuestionMaxLength))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q",
			StorageDriverPostgres, StorageDriverMemory, c.StorageDriver))
	}

	return errors.Join(errs...)
}

// positiveInt は正の整数値を返す。未設定・不正値・0以下の場合は既定値を返す。
func positiveInt(v *viper.Viper, key string) int {
	if i := v.GetInt(key); i > 0 {
		return i
	}
	return defaults[key].(int)
}

// positiveDuration は正の時間長を返す。未設定・不正値・0以下の場合は既定値を返す。
func positiveDuration(v *viper.Viper, key string) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaults[key].(time.Duration)
}
