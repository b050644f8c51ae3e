package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	EmailsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emails_checked_total",
		Help: "Total emails processed",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache hits per cache name",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Cache misses per cache name",
	}, []string{"cache"})

	DNSLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dns_lookups_total",
		Help: "DNS lookups per record type and outcome",
	}, []string{"kind", "outcome"})

	SMTPProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_probes_total",
		Help: "SMTP deliverability probes per outcome",
	}, []string{"outcome"})

	GateQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_queued_tasks",
		Help: "Tasks waiting for a concurrency gate slot",
	})

	APIKeyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_key_checks_total",
		Help: "API key validations per key digest and type",
	}, []string{"key", "type"})

	APIKeyQuota = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "api_key_quota_remaining",
		Help: "Remaining quota per API key digest",
	}, []string{"key"})

	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_attempts_total",
		Help: "Webhook delivery attempts per task and status",
	}, []string{"task_id", "status"})

	WebhookRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_retries_total",
		Help: "Webhook deliveries retried after a failure",
	})

	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_latency_seconds",
		Help:    "Webhook request latency",
		Buckets: prometheus.DefBuckets,
	})
)
