// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging with multi-tenant support
for Quillworks components.

# Overview

The logger outputs one JSON object per line to stdout, making logs easily
consumable by CloudWatch, ELK, or any other log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (server, credits, limits, sweeper)
  - Instance ID and container name (for distributed tracing)
  - Workspace ID (for multi-tenant isolation)
  - Request ID (for request correlation)

# Usage

Create a logger per component and pass workspace and request correlation on
every call:

	log := logger.New("credits")
	log.Info(workspaceID, requestID, "Reserved credits", map[string]interface{}{
	    "reservation_id": res.ID,
	    "amount_micros":  amount,
	})

The billing core logs every ledger entry before commit; those lines are the
reconciliation trail when a commit fails, so the workspace and amount fields
must always be populated.
*/
package logger
