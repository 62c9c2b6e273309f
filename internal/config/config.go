// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

// Package config centralises configuration parsing for the smartcapi binary.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures runtime configuration for both the device agent and the
// central server.
type Config struct {
	// Server side.
	HTTPAddress string // listen address for the sync server
	DatabaseURL string // Postgres DSN; empty selects the in-memory store
	JWTSecret   string

	// Device side.
	ServerBaseURL   string // central server base URL, e.g. https://capi.example.org
	StorePath       string // SQLite file for the local record store and cache
	CacheGeneration string // durable cache version tag
	EnumeratorID    string
	DeviceID        string

	// Retry policy per offline episode.
	RetryMaxAttempts int
	BackoffMin       time.Duration
	BackoffMax       time.Duration

	// Logging.
	LogFile string // empty logs to stdout only
}

// Load reads environment variables into Config, applying defaults suitable
// for local development.
func Load() Config {
	return Config{
		HTTPAddress:      getEnv("SMARTCAPI_HTTP_ADDRESS", ":8080"),
		DatabaseURL:      getEnv("SMARTCAPI_DATABASE_URL", ""),
		JWTSecret:        getEnv("SMARTCAPI_JWT_SECRET", "dev-secret-change-me"),
		ServerBaseURL:    getEnv("SMARTCAPI_SERVER_URL", "http://localhost:8080"),
		StorePath:        getEnv("SMARTCAPI_STORE_PATH", "smartcapi.db"),
		CacheGeneration:  getEnv("SMARTCAPI_CACHE_GENERATION", "v1"),
		EnumeratorID:     getEnv("SMARTCAPI_ENUMERATOR_ID", ""),
		DeviceID:         getEnv("SMARTCAPI_DEVICE_ID", ""),
		RetryMaxAttempts: getIntEnv("SMARTCAPI_RETRY_MAX_ATTEMPTS", 5),
		BackoffMin:       getDurationEnv("SMARTCAPI_BACKOFF_MIN", time.Second),
		BackoffMax:       getDurationEnv("SMARTCAPI_BACKOFF_MAX", time.Minute),
		LogFile:          getEnv("SMARTCAPI_LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
