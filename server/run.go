// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

// Package server wires the billing service: credit ledger, plan limits,
// transaction archive, and the HTTP API in front of them.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"quillworks/platform/billing/archive"
	"quillworks/platform/billing/credits"
	"quillworks/platform/billing/limits"
	"quillworks/platform/secrets"
	"quillworks/platform/shared/logger"
)

// Run starts the billing service and blocks until SIGINT or SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8082)
//   - MONGODB_URI, MONGODB_DATABASE: balance and reservation store
//   - REDIS_ADDR, REDIS_PASSWORD: plan-limit count cache
//   - ARCHIVE_DRIVER, ARCHIVE_DSN: transaction archive ("postgres" or "mysql")
//   - JWT_SECRET: HS256 secret for API tokens
//   - PRICE_TABLE_FILE, PLAN_LIMITS_FILE: optional JSON/YAML overrides
//   - AWS_REGION (+ optional static credentials): workspace key secrets
//   - SWEEP_INTERVAL: expired-reservation sweep cadence (default: 1m)
func Run() {
	log.Println("Starting Quillworks billing service...")

	cfg := LoadConfig()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if cfg.ArchiveDSN == "" {
		log.Fatal("ARCHIVE_DSN is required")
	}

	appLog := logger.New("billing")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Balance and reservation store.
	store, err := credits.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	// Pricing, with optional override file.
	prices := credits.NewPriceTable()
	if cfg.PriceTableFile != "" {
		prices, err = credits.LoadPriceTable(cfg.PriceTableFile)
		if err != nil {
			log.Fatalf("Failed to load price table: %v", err)
		}
	}

	mgr := credits.NewManager(store, prices, appLog)

	// Transaction archive.
	txArchive, err := archive.Open(cfg.ArchiveDriver, cfg.ArchiveDSN)
	if err != nil {
		log.Fatalf("Failed to open transaction archive: %v", err)
	}
	defer func() { _ = txArchive.Close() }()

	// Expired-reservation sweeper.
	sweeper := credits.NewSweeper(mgr, txArchive)
	sweeper.Interval = cfg.SweepInterval
	go sweeper.Run(ctx)

	// Plan limits: Mongo directory behind a Redis count cache.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() { _ = rdb.Close() }()

	plans := limits.DefaultPlans()
	if cfg.PlanLimitsFile != "" {
		plans, err = limits.LoadPlans(cfg.PlanLimitsFile)
		if err != nil {
			log.Fatalf("Failed to load plan limits: %v", err)
		}
	}
	directory := limits.NewMongoDirectory(store.Database())
	checker := limits.NewChecker(plans, directory, directory, appLog)
	// Cached counts serve the usage report only; admission checks recount.
	checker.UseReportCache(limits.NewCountCache(directory, rdb, limits.DefaultCountTTL))

	// Workspace supplier keys; a stored key skips the credit hold.
	resolver, err := secrets.NewAWSKeyResolver(ctx, secrets.AWSKeyResolverOptions{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create key resolver: %v", err)
	}

	// Router.
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(store, txArchive, rdb)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Use(authMiddleware([]byte(cfg.JWTSecret)))
	r.Use(usageMiddleware(txArchive))
	credits.NewHandler(mgr, txArchive).RegisterRoutes(r)
	limits.NewHandler(checker).RegisterRoutes(r)

	// Execution-plane metering surface.
	newMeterHandler(mgr, resolver, txArchive).registerRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Quillworks billing service listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
		os.Exit(1)
	}
}

// healthHandler reports the health of each backing store.
func healthHandler(store *credits.MongoStore, txArchive *archive.Repository, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{
			"mongodb": "ok",
			"archive": "ok",
			"redis":   "ok",
		}
		healthy := true

		if err := store.Ping(ctx); err != nil {
			checks["mongodb"] = err.Error()
			healthy = false
		}
		if err := txArchive.Ping(ctx); err != nil {
			checks["archive"] = err.Error()
			healthy = false
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The count cache fails open; a Redis outage degrades rather
			// than breaks the service.
			checks["redis"] = err.Error()
		}

		status := http.StatusOK
		state := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": state,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
