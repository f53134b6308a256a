// cmd/worker/config.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type config struct {
	NATSURL     string
	Stream      string
	JobSubject  string
	WorkerQueue string
	MaxAttempts int
	BackoffBase time.Duration
	MaxInFlight int

	DatabaseURL string

	S3Bucket      string
	S3Region      string
	S3AccessKeyID string
	S3SecretKey   string
	S3Endpoint    string
	PublicBaseURL string
}

func loadConfig() (config, error) {
	cfg := config{
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		Stream:      getenv("MEDIA_STREAM", "MEDIA_JOBS"),
		JobSubject:  getenv("MEDIA_SUBJECT", "media.jobs"),
		WorkerQueue: getenv("MEDIA_QUEUE", "media-workers"),

		DatabaseURL: getenv("DATABASE_URL", ""),

		S3Bucket:      getenv("S3_BUCKET", "directory-media"),
		S3Region:      getenv("S3_REGION", "auto"),
		S3AccessKeyID: getenv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:   getenv("S3_SECRET_ACCESS_KEY", ""),
		S3Endpoint:    getenv("S3_ENDPOINT", ""),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", ""),
	}

	if cfg.DatabaseURL == "" {
		return config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.PublicBaseURL == "" {
		return config{}, fmt.Errorf("PUBLIC_BASE_URL must be set")
	}

	attempts, err := parsePositiveInt(getenv("MEDIA_MAX_ATTEMPTS", "3"), "MEDIA_MAX_ATTEMPTS")
	if err != nil {
		return config{}, err
	}
	cfg.MaxAttempts = attempts

	backoffSecs, err := parsePositiveInt(getenv("MEDIA_BACKOFF_SECONDS", "5"), "MEDIA_BACKOFF_SECONDS")
	if err != nil {
		return config{}, err
	}
	cfg.BackoffBase = time.Duration(backoffSecs) * time.Second

	inFlight, err := parsePositiveInt(getenv("MEDIA_MAX_IN_FLIGHT", "8"), "MEDIA_MAX_IN_FLIGHT")
	if err != nil {
		return config{}, err
	}
	cfg.MaxInFlight = inFlight

	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
