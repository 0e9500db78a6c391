// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging with per-workspace correlation
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry is one structured log line. WorkspaceID and RequestID carry the
// multi-tenant correlation every billing log needs for reconciliation.
type LogEntry struct {
	Timestamp   string                 `json:"timestamp"`
	Level       LogLevel               `json:"level"`
	Component   string                 `json:"component"`
	InstanceID  string                 `json:"instance_id"`
	Container   string                 `json:"container"`
	WorkspaceID string                 `json:"workspace_id,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	Message     string                 `json:"message"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, workspaceID, requestID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Level:       level,
		Component:   l.Component,
		InstanceID:  l.InstanceID,
		Container:   l.Container,
		WorkspaceID: workspaceID,
		RequestID:   requestID,
		Message:     message,
		Fields:      fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	// JSON to stdout; the container runtime captures it
	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(workspaceID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, workspaceID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(workspaceID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, workspaceID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(workspaceID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, workspaceID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(workspaceID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, workspaceID, requestID, message, fields)
}

// WithError logs an error message with the error string attached as a field
func (l *Logger) WithError(workspaceID, requestID, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(workspaceID, requestID, message, fields)
}
