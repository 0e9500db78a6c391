// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the Quillworks billing service.
//
// The billing service meters paid work against workspace credit balances:
// - Reserves credits before paid supplier calls and settles them after
// - Buffers per-turn charges and applies them as one balance update
// - Enforces per-plan resource limits on workspace configuration
// - Archives every committed charge for audit and reporting
// - Reclaims reservations orphaned by crashed executors
//
// Usage:
//
//	./server
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	MONGODB_URI - balance and reservation store connection string
//	REDIS_ADDR - plan-limit count cache address
//	ARCHIVE_DRIVER, ARCHIVE_DSN - transaction archive database
//	JWT_SECRET - HS256 secret for API tokens
package main

import (
	"quillworks/platform/server"
)

func main() {
	server.Run()
}
