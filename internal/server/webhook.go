package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/metrics"
	"github.com/mailward/email-verifier/pkg/types"
)

// triggerWebhook delivers the completion notification, retrying on failure.
// In cluster mode the config is read back from Redis because another
// instance may have accepted the task.
func (s *Server) triggerWebhook(task *types.Task) {
	var webhook types.WebhookConfig

	if s.clusterMode {
		data, err := s.redisClient.Get(context.Background(), "webhook:task:"+task.ID).Result()
		if err != nil {
			return // No webhook configured or the retry window expired
		}
		if err := json.Unmarshal([]byte(data), &webhook); err != nil {
			return
		}
		if webhook.TTL == 0 && webhook.TTLStr != "" {
			webhook.TTL, _ = time.ParseDuration(webhook.TTLStr)
		}
	} else {
		if task.Webhook == nil {
			return
		}
		webhook = *task.Webhook
	}

	deadline := task.CreatedAt.Add(webhook.TTL)
	for attempt := 1; attempt <= webhook.Retries; attempt++ {
		if webhook.TTL > 0 && time.Now().After(deadline) {
			logger.Logf("[Webhook] Task %s: retry window expired after %d attempts", task.ID, attempt-1)
			return
		}
		if s.sendWebhookRequest(task, webhook, attempt) {
			return
		}
		// Pause and count the retry only when another attempt follows
		if attempt < webhook.Retries {
			metrics.WebhookRetries.Inc()
			time.Sleep(2 * time.Second)
		}
	}
	logger.Logf("[Webhook] Task %s: delivery failed after %d attempts", task.ID, webhook.Retries)
}

// sendWebhookRequest executes one signed HTTP POST to the webhook URL
func (s *Server) sendWebhookRequest(task *types.Task, cfg types.WebhookConfig, attempt int) bool {
	started := time.Now()
	defer func() {
		metrics.WebhookLatency.Observe(time.Since(started).Seconds())
	}()

	payload, _ := json.Marshal(map[string]interface{}{
		"task_id":  task.ID,
		"status":   task.Status,
		"results":  len(task.Results),
		"ttl":      cfg.TTLStr,
		"attempts": attempt,
		"lifetime": time.Since(task.CreatedAt).String(),
	})

	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewBuffer(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		req.Header.Set("X-Signature", generateSignature(payload, cfg.Secret))
	}

	resp, err := http.DefaultClient.Do(req)
	success := err == nil && resp.StatusCode < 400
	if resp != nil {
		resp.Body.Close()
	}

	statusLabel := "failure"
	if success {
		statusLabel = "success"
	}
	metrics.WebhookAttempts.WithLabelValues(task.ID, statusLabel).Inc()
	return success
}

// generateSignature computes the HMAC-SHA256 signature for the payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
