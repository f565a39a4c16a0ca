// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// タスクキューのバックエンド
const (
	TaskQueuePostgres = "postgres"
	TaskQueueNATS     = "nats"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int

	// Server
	ServerPort        string
	WorkerMetricsPort string // workerプロセスの /metrics, /health 用ポート。空なら公開しない

	// Logging
	LogLevel string

	// Fetch
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FetchAllowedPorts []int

	// Task queue
	TaskQueue              string
	WorkerConcurrency      int
	QueuePollInterval      time.Duration
	QueueVisibilityTimeout time.Duration
	QueueMaxAttempts       int
	QueueRetryDelay        time.Duration
	QueueMaxRetryDelay     time.Duration
	NATSURL                string
	NATSStream             string
	NATSSubject            string
	NATSDurable            string

	// Job state cleanup
	JobStateRetentionDays int
	CleanupInterval       time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral   int
	RateLimitSubscribe int

	// Cookie / CSRF / CORS
	CookieSecure      bool
	CookieDomain      string
	CSRFEnabled       bool
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TaskQueue = strings.ToLower(getEnvString("TASK_QUEUE", TaskQueuePostgres))
	cfg.NATSURL = os.Getenv("NATS_URL")
	if cfg.TaskQueue == TaskQueueNATS && cfg.NATSURL == "" {
		missing = append(missing, "NATS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("必須の環境変数が設定されていません: %v", missing)
	}

	if cfg.TaskQueue != TaskQueuePostgres && cfg.TaskQueue != TaskQueueNATS {
		return nil, fmt.Errorf("TASK_QUEUE は %s または %s を指定してください: %q", TaskQueuePostgres, TaskQueueNATS, cfg.TaskQueue)
	}

	ports, err := getEnvInts("FETCH_ALLOWED_PORTS", []int{80, 443})
	if err != nil {
		return nil, err
	}
	cfg.FetchAllowedPorts = ports

	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 10)
	cfg.QueuePollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", time.Second)
	cfg.QueueVisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute)
	cfg.QueueMaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", 10)
	cfg.QueueRetryDelay = getEnvDuration("QUEUE_RETRY_DELAY", 10*time.Second)
	cfg.QueueMaxRetryDelay = getEnvDuration("QUEUE_MAX_RETRY_DELAY", 5*time.Minute)
	cfg.NATSStream = getEnvString("NATS_STREAM", "FEEDSUB_TASKS")
	cfg.NATSSubject = getEnvString("NATS_SUBJECT", "feedsub.tasks.subscribe")
	cfg.NATSDurable = getEnvString("NATS_DURABLE", "feedsub-subscribe-worker")
	cfg.JobStateRetentionDays = getEnvInt("JOB_STATE_RETENTION_DAYS", 14)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSubscribe = getEnvInt("RATE_LIMIT_SUBSCRIBE", 30)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", true)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

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

// getEnvInts はカンマ区切りの整数リストを読み込む。不正な値はエラーにする。
func getEnvInts(key string, defaultVal []int) ([]int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil || i <= 0 || i > 65535 {
			return nil, fmt.Errorf("%s に不正なポート番号があります: %q", key, part)
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return defaultVal, nil
	}
	return out, nil
}
