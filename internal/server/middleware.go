package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/mailward/email-verifier/internal/auth"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/metrics"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// apiKeyFromContext returns the authenticated key attached by APIKeyMiddleware
func apiKeyFromContext(ctx context.Context) (*auth.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*auth.APIKey)
	return key, ok
}

// APIKeyMiddleware validates the X-API-Key header and records quota metrics
func APIKeyMiddleware(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				respondError(w, http.StatusUnauthorized, "API key required")
				return
			}

			key, err := authService.ValidateKey(r.Context(), apiKey)
			if err != nil {
				respondError(w, http.StatusForbidden, err.Error())
				return
			}

			// Label by a key digest: /metrics is unauthenticated, so the raw
			// credential must never appear there
			label := keyLabel(apiKey)
			metrics.APIKeyChecks.WithLabelValues(label, string(key.Type)).Inc()
			metrics.APIKeyQuota.WithLabelValues(label).Set(float64(key.Remaining))

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// keyLabel derives a stable short identifier from an API key for use as a
// metric label
func keyLabel(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:6])
}

// AdminMiddleware gates key management behind the configured admin key
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminKey := viper.GetString("admin-key")
		if adminKey == "" || r.Header.Get("X-Admin-Key") != adminKey {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request and records HTTP metrics
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lw, r)

		metrics.HttpRequests.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", lw.statusCode)).Inc()
		logger.Logf("%s %s %d %s", r.Method, r.URL.Path, lw.statusCode, time.Since(started))
	})
}

// corsMiddleware sets permissive CORS headers and answers preflight requests
// TODO: Move CORS configuration to external config
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Admin-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondError sends a standardized JSON error response
func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.Logf("Failed to write error response: %v", err)
	}
}
