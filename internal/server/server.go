// Package server exposes the HTTP API: asynchronous validation tasks with
// paginated results, optional webhooks, API key management and Prometheus
// metrics. Tasks flow through storage so clustered instances share one queue.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/mailward/email-verifier/docs"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/pkg/types"
)

const resultsPerPage = 100

// NewServer creates a server around the given dependencies
func NewServer(opts Options) *Server {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	return &Server{
		storage:     opts.Storage,
		redisClient: opts.RedisClient,
		db:          opts.DB,
		auth:        opts.Auth,
		checker:     opts.Checker,
		port:        opts.Port,
		maxWorkers:  opts.MaxWorkers,
		clusterMode: opts.ClusterMode,
	}
}

// Start launches the task workers and begins serving HTTP requests
func (s *Server) Start() error {
	for i := 0; i < s.maxWorkers; i++ {
		go s.workerLoop()
	}

	handler := loggingMiddleware(corsMiddleware(s.routes()))
	logger.Logf("[Server] Listening on :%s with %d workers", s.port, s.maxWorkers)
	return http.ListenAndServe(":"+s.port, handler)
}

// routes builds the request router
func (s *Server) routes() http.Handler {
	router := http.NewServeMux()

	taskRoutes := http.NewServeMux()
	taskRoutes.HandleFunc("POST /tasks", s.handleCreateTask)
	taskRoutes.HandleFunc("GET /tasks/{id}", s.handleTaskStatus)
	taskRoutes.HandleFunc("GET /tasks-results/{id}", s.handleTaskResults)
	if s.auth != nil {
		router.Handle("/tasks", APIKeyMiddleware(s.auth)(taskRoutes))
		router.Handle("/tasks/", APIKeyMiddleware(s.auth)(taskRoutes))
		router.Handle("/tasks-results/", APIKeyMiddleware(s.auth)(taskRoutes))
	} else {
		router.Handle("/tasks", taskRoutes)
		router.Handle("/tasks/", taskRoutes)
		router.Handle("/tasks-results/", taskRoutes)
	}

	adminRoutes := http.NewServeMux()
	adminRoutes.HandleFunc("POST /admin/keys", s.handleCreateKey)
	adminRoutes.HandleFunc("GET /admin/keys", s.handleListKeys)
	adminRoutes.HandleFunc("GET /admin/keys/{api_key}", s.handleGetKey)
	adminRoutes.HandleFunc("PATCH /admin/keys/{api_key}", s.handleUpdateKey)
	adminRoutes.HandleFunc("DELETE /admin/keys/{api_key}", s.handleDeleteKey)
	router.Handle("/admin/", AdminMiddleware(adminRoutes))

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/swagger/", httpSwagger.WrapHandler)
	return router
}

// generateID returns a unique task identifier
func (s *Server) generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// handleCreateTask accepts a batch of emails with an optional webhook config,
// persists the task and enqueues it for a worker.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Emails  []string             `json:"emails"`
		Webhook *types.WebhookConfig `json:"webhook,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if len(request.Emails) == 0 {
		respondError(w, http.StatusBadRequest, "No emails provided")
		return
	}

	if request.Webhook != nil {
		ttl, err := time.ParseDuration(request.Webhook.TTLStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid TTL format (e.g., '1h', '30m')")
			return
		}
		request.Webhook.TTL = ttl
		if request.Webhook.URL == "" || request.Webhook.Retries <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid webhook config")
			return
		}
	}

	taskID := s.generateID()
	task := &types.Task{
		ID:        taskID,
		Status:    "pending",
		Emails:    request.Emails,
		CreatedAt: time.Now(),
		Webhook:   request.Webhook,
	}

	if err := s.storage.SaveTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to save task")
		return
	}

	// Clustered instances read the webhook config from Redis because the
	// worker that completes the task may not be the one that accepted it.
	if s.clusterMode && request.Webhook != nil {
		data, _ := json.Marshal(request.Webhook)
		s.redisClient.Set(r.Context(), "webhook:task:"+taskID, data, request.Webhook.TTL)
	}

	if err := s.storage.EnqueueTask(task); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue task")
		return
	}

	// Charge the caller for the batch up front
	if s.auth != nil {
		if key, ok := apiKeyFromContext(r.Context()); ok {
			if err := s.auth.DecrementQuota(r.Context(), key.Key, len(request.Emails)); err != nil {
				respondError(w, http.StatusForbidden, err.Error())
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"task_id": taskID})
}

// handleTaskStatus returns task metadata without the result payload
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.storage.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}

	var totalPages int
	if task.Status == "completed" {
		totalPages = (len(task.Results) + resultsPerPage - 1) / resultsPerPage
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TaskStatusResponse{
		Status:       task.Status,
		TotalResults: len(task.Results),
		CreatedAt:    task.CreatedAt,
		TotalPages:   totalPages,
	})
}

// handleTaskResults returns one page of a completed task's reports
func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	task, err := s.storage.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = resultsPerPage
	}
	if page <= 0 {
		page = 1
	}

	// Pages past the end return an empty slice rather than wrapping to page 1
	start := (page - 1) * perPage
	if start < 0 || start > len(task.Results) {
		start = len(task.Results)
	}
	end := min(start+perPage, len(task.Results))

	response := struct {
		Data  []types.Report `json:"data"`
		Page  int            `json:"page"`
		Total int            `json:"total"`
	}{
		Data:  task.Results[start:end],
		Page:  page,
		Total: len(task.Results),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// workerLoop drains the task queue for the lifetime of the server
func (s *Server) workerLoop() {
	for {
		task, err := s.storage.DequeueTask()
		if err != nil {
			// Memory queue returns an error when empty; Redis blocks instead
			time.Sleep(500 * time.Millisecond)
			continue
		}
		s.processTask(task)
	}
}

// processTask runs the batch validation and delivers the webhook if any
func (s *Server) processTask(task *types.Task) {
	ctx := context.Background()

	task.Status = "processing"
	if err := s.storage.UpdateTask(ctx, task); err != nil {
		logger.Logf("[Server] Failed to update task %s: %v", task.ID, err)
	}

	task.Results = s.checker.CheckEmailsBatch(ctx, task.Emails)
	task.Status = "completed"
	if err := s.storage.UpdateTask(ctx, task); err != nil {
		logger.Logf("[Server] Failed to store results for task %s: %v", task.ID, err)
	}

	s.triggerWebhook(task)
	logger.Flush()
}
