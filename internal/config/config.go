// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	// DatabaseURL is optional; when empty the follower and execution
	// store are disabled and streams are fed over HTTP only.
	DatabaseURL      string
	Env              string
	IngestToken      string
	AutoMigrate      bool
	PollInterval     time.Duration
	IngestRatePerMin int
	WebhookURL       string
	WebhookSecret    string
}

func Load() Config {
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		Env:              getenv("ENV", "dev"),
		IngestToken:      getenv("INGEST_TOKEN", ""),
		AutoMigrate:      getenvBool("AUTO_MIGRATE", true),
		PollInterval:     getenvDuration("POLL_INTERVAL", 500*time.Millisecond),
		IngestRatePerMin: getenvInt("INGEST_RATE_PER_MIN", 6000),
		WebhookURL:       getenv("COMPLETION_WEBHOOK_URL", ""),
		WebhookSecret:    getenv("COMPLETION_WEBHOOK_SECRET", ""),
	}
}

func getenv(key, defaultValue string) string {
	v := os.Getenv(key)
	if v != "" {
		return v
	}
	return defaultValue
}

func getenvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getenvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
