package server

import (
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/mailward/email-verifier/internal/auth"
	"github.com/mailward/email-verifier/internal/checker"
	"github.com/mailward/email-verifier/internal/storage"
)

// TaskStatusResponse is the task metadata returned by GET /tasks/{id}
type TaskStatusResponse struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"total_results"`
	CreatedAt    time.Time `json:"created_at"`
	TotalPages   int       `json:"total_pages,omitempty"`
}

// Options carries everything a Server needs to run
type Options struct {
	Storage     storage.Storage
	RedisClient redis.UniversalClient // nil in standalone mode without Redis
	DB          *sqlx.DB              // nil disables API key management
	Auth        *auth.Service         // nil disables API key enforcement
	Checker     *checker.Checker
	Port        string
	MaxWorkers  int
	ClusterMode bool
}

// Server owns the HTTP API and the background task workers
type Server struct {
	storage     storage.Storage
	redisClient redis.UniversalClient
	db          *sqlx.DB
	auth        *auth.Service
	checker     *checker.Checker
	port        string
	maxWorkers  int
	clusterMode bool
}

// loggingResponseWriter captures the status code for request logging
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}
