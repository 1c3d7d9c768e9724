// Package config はアプリケーション設定の読み込みを提供する。
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

	// LLM（要約・翻訳の言語モデルAPI）
	LLMAPIURL       string
	LLMModel        string
	LLMTimeout      time.Duration
	LLMMinInterval  time.Duration // モデルAPI呼び出しの最小間隔
	SummaryStyle    string        // concise / detailed / bullet
	SummaryMaxChars int

	// Ingest（ポーリングパイプライン）
	PollInterval      time.Duration
	FetchTimeout      time.Duration // フィード1件ごとの独立タイムアウト
	FetchMaxSize      int64
	DedupMaxInFlight  int // 重複判定の同時ルックアップ数上限
	IngestMaxFeeds    int // 1サイクルで処理するフィード数上限
	IngestConcurrency int

	// Translation jobs
	JobLeaseDuration  time.Duration // runningジョブのリース期間
	JobReaperInterval time.Duration
	JobTimeout        time.Duration // ジョブ1件の実行タイムアウト

	// Rate Limit
	RateLimitPerMin int

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
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

	cfg.LLMAPIURL = os.Getenv("LLM_API_URL")
	if cfg.LLMAPIURL == "" {
		missing = append(missing, "LLM_API_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LLMModel = getEnvString("LLM_MODEL", "gemma3:4b")
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 60*time.Second)
	cfg.LLMMinInterval = getEnvDuration("LLM_MIN_INTERVAL", 1*time.Second)
	cfg.SummaryStyle = getEnvString("SUMMARY_STYLE", "concise")
	cfg.SummaryMaxChars = getEnvInt("SUMMARY_MAX_CHARS", 600)

	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 15*time.Minute)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.DedupMaxInFlight = getEnvInt("DEDUP_MAX_IN_FLIGHT", 8)
	cfg.IngestMaxFeeds = getEnvInt("INGEST_MAX_FEEDS", 100)
	cfg.IngestConcurrency = getEnvInt("INGEST_CONCURRENCY", 5)

	cfg.JobLeaseDuration = getEnvDuration("JOB_LEASE_DURATION", 10*time.Minute)
	cfg.JobReaperInterval = getEnvDuration("JOB_REAPER_INTERVAL", 1*time.Minute)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", 30*time.Minute)

	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
