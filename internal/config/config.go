// Package config loads worker configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything a worker process needs to start, grouped by the
// collaborator each section configures.
type Config struct {
	// Worker identity and loop tuning.
	WorkerID                     string
	PollInterval                 time.Duration
	MaxPollInterval              time.Duration
	MaxJobsPerRun                int
	ShutdownOnEmpty              bool
	EmptyShutdownMinutes         int
	LockTTLMinutes               int
	StaleCheckMinutes            int
	TempDir                      string
	Language                     string
	DownloadTimeoutSeconds       int
	HeartbeatIntervalSeconds     int
	ProgressWriteIntervalSeconds int

	// Store (Postgres).
	DatabaseURL string

	// Media Object Service (S3-compatible).
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Quota Service.
	DailyLimitMinutes int

	// Transcription Engine.
	GeminiAPIKey string
	GeminiModel  string

	// Logging.
	LogLevel string
}

// Load reads Config from the environment, applying the same defaults the
// worker's original implementation used, and validates the fields that have
// no safe default.
func Load() (*Config, error) {
	workerID := getEnv("WORKER_ID", defaultWorkerID())

	pollInterval, err := getEnvDurationSeconds("POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxPollInterval, err := getEnvDurationSeconds("MAX_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	maxJobsPerRun, err := getEnvInt("MAX_JOBS_PER_RUN", 0)
	if err != nil {
		return nil, err
	}
	shutdownOnEmpty, err := getEnvBool("SHUTDOWN_ON_EMPTY", false)
	if err != nil {
		return nil, err
	}
	emptyShutdownMinutes, err := getEnvInt("EMPTY_SHUTDOWN_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	lockTTLMinutes, err := getEnvInt("LOCK_TTL_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	staleCheckMinutes, err := getEnvInt("STALE_CHECK_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	dailyLimitMinutes, err := getEnvInt("DAILY_LIMIT_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	downloadTimeoutSeconds, err := getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	heartbeatIntervalSeconds, err := getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	progressWriteIntervalSeconds, err := getEnvInt("PROGRESS_WRITE_INTERVAL_SECONDS", 2)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WorkerID:             workerID,
		PollInterval:         pollInterval,
		MaxPollInterval:      maxPollInterval,
		MaxJobsPerRun:        maxJobsPerRun,
		ShutdownOnEmpty:      shutdownOnEmpty,
		EmptyShutdownMinutes: emptyShutdownMinutes,
		LockTTLMinutes:       lockTTLMinutes,
		StaleCheckMinutes:    staleCheckMinutes,
		TempDir:              getEnv("TEMP_DIR", os.TempDir()),
		Language:             getEnv("LANGUAGE", ""),
		DownloadTimeoutSeconds:       downloadTimeoutSeconds,
		HeartbeatIntervalSeconds:     heartbeatIntervalSeconds,
		ProgressWriteIntervalSeconds: progressWriteIntervalSeconds,

		DatabaseURL: getEnv("DATABASE_URL", ""),

		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		DailyLimitMinutes: dailyLimitMinutes,

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid worker configuration: %v", errs)
	}

	return cfg, nil
}

// validate mirrors the original worker's config.validate(): collect every
// missing required value instead of failing on the first one.
func (c *Config) validate() []string {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.S3Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" {
		errs = append(errs, "S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required")
	}
	return errs
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvDurationSeconds(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}
