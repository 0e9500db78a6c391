// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"os"
	"time"
)

// Config holds the billing service configuration, read from the
// environment (12-Factor style).
type Config struct {
	Port string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string

	ArchiveDriver string
	ArchiveDSN    string

	JWTSecret string

	// Optional override files; defaults apply when empty.
	PriceTableFile string
	PlanLimitsFile string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	SweepInterval time.Duration
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:               getEnv("PORT", "8082"),
		MongoURI:           getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGODB_DATABASE", "quillworks"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		ArchiveDriver:      getEnv("ARCHIVE_DRIVER", "postgres"),
		ArchiveDSN:         os.Getenv("ARCHIVE_DSN"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		PriceTableFile:     os.Getenv("PRICE_TABLE_FILE"),
		PlanLimitsFile:     os.Getenv("PLAN_LIMITS_FILE"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
