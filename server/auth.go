// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxKeyWorkspace contextKey = "workspace_id"

// WorkspaceFromContext returns the authenticated workspace ID, if any.
func WorkspaceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyWorkspace).(string)
	return id
}

// authMiddleware validates the Bearer token and stashes the workspace ID
// from its claims in the request context. Tokens are HS256-signed by the
// control plane.
func authMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == "" || tokenString == header {
				writeAuthError(w, "missing bearer token")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeAuthError(w, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeAuthError(w, "invalid token claims")
				return
			}
			workspaceID, _ := claims["workspace_id"].(string)
			if workspaceID == "" {
				writeAuthError(w, "token has no workspace_id claim")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyWorkspace, workspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isPublicPath reports whether a path is served without credentials.
func isPublicPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
