package types

import "time"

// MatchType describes how a domain matched one of the indexed sets.
type MatchType string

const (
	MatchExact     MatchType = "exact"     // Domain equals an indexed entry
	MatchSubdomain MatchType = "subdomain" // Domain is a proper subdomain of an indexed entry
	MatchPattern   MatchType = "pattern"   // Domain flagged by heuristic pattern scoring
	MatchNone      MatchType = "none"      // No match
)

// MXRecord represents a single mail exchanger for a domain
type MXRecord struct {
	Host     string `json:"host"`     // Hostname of the MX server, no trailing dot
	Priority uint16 `json:"priority"` // Priority of the MX server, lower is preferred
}

// DNSReport is the outcome of the DNS probe for one domain
type DNSReport struct {
	Domain      string     `json:"domain"`               // Domain that was probed
	HasMX       bool       `json:"has_mx"`               // True when at least one MX record resolved
	MXRecords   []MXRecord `json:"mx_records,omitempty"` // MX records sorted ascending by priority
	HasSPF      bool       `json:"has_spf"`              // True when a v=spf1 TXT record exists
	HasDMARC    bool       `json:"has_dmarc"`            // True when a v=DMARC1 record exists at _dmarc.<domain>
	Connectable bool       `json:"connectable"`          // True when TCP:25 on the best MX accepted a connection
	ElapsedMs   int64      `json:"elapsed_ms"`           // Total probe duration in milliseconds
	Errors      []string   `json:"errors,omitempty"`     // Infrastructure failures (resolution errors)
	Warnings    []string   `json:"warnings,omitempty"`   // Missing records and other soft signals
}

// SMTPReport is the outcome of the SMTP deliverability probe for one mailbox
type SMTPReport struct {
	Email           string   `json:"email"`                      // Mailbox that was probed
	Domain          string   `json:"domain"`                     // Domain part of the mailbox
	Valid           bool     `json:"valid"`                      // True when the handshake completed on some server
	MailboxValid    bool     `json:"mailbox_valid"`              // True when RCPT TO was accepted with 250
	MXHost          string   `json:"mx_host,omitempty"`          // Server that produced the final verdict
	ResponseCode    int      `json:"response_code,omitempty"`    // Last SMTP response code observed in the dialogue
	ResponseMessage string   `json:"response_message,omitempty"` // Message accompanying the RCPT response
	ElapsedMs       int64    `json:"elapsed_ms"`                 // Total probe duration in milliseconds
	Errors          []string `json:"errors,omitempty"`           // Protocol failures
	Warnings        []string `json:"warnings,omitempty"`         // One entry per MX candidate that failed
}

// Report is the aggregated result of validating one email address
type Report struct {
	Email       string      `json:"email"`                // Normalized email address
	Valid       bool        `json:"valid"`                // Overall verdict across configured stages
	Disposable  bool        `json:"disposable"`           // Domain belongs to a disposable provider
	Allowed     bool        `json:"allowed"`              // Domain is allowlisted; overrides everything else
	Blacklisted bool        `json:"blacklisted"`          // Domain is blacklisted
	Domain      string      `json:"domain,omitempty"`     // Domain part, IDNA-normalized
	LocalPart   string      `json:"local_part,omitempty"` // Local part, lower-cased
	MatchType   MatchType   `json:"match_type"`           // Provenance of the strongest classification
	Confidence  int         `json:"confidence"`           // 0-100 running maximum across signals
	ElapsedMs   int64       `json:"elapsed_ms"`           // Total pipeline duration in milliseconds
	Errors      []string    `json:"errors,omitempty"`     // Terminal failures (format, internal)
	Warnings    []string    `json:"warnings,omitempty"`   // Non-fatal probe findings
	DNS         *DNSReport  `json:"dns,omitempty"`        // DNS sub-result when DNS checking ran
	SMTP        *SMTPReport `json:"smtp,omitempty"`       // SMTP sub-result when SMTP checking ran
	WHOIS       string      `json:"whois,omitempty"`      // Raw WHOIS payload when enrichment is enabled
}

// WebhookConfig describes result delivery for asynchronous tasks
type WebhookConfig struct {
	URL     string        `json:"url"`              // Delivery endpoint
	Secret  string        `json:"secret,omitempty"` // HMAC-SHA256 signing secret
	Retries int           `json:"retries"`          // Delivery attempts before giving up
	TTLStr  string        `json:"ttl"`              // Retry window as a duration string, e.g. "1h"
	TTL     time.Duration `json:"-"`                // Parsed retry window
}

// Task represents one asynchronous batch validation job
type Task struct {
	ID        string         `json:"id"`                // Unique identifier for the task
	Status    string         `json:"status"`            // "pending", "processing" or "completed"
	Emails    []string       `json:"emails"`            // Input addresses in submission order
	Results   []Report       `json:"results,omitempty"` // Reports in the same order as Emails
	CreatedAt time.Time      `json:"created_at"`        // Task creation timestamp
	Webhook   *WebhookConfig `json:"webhook,omitempty"` // Optional delivery configuration
}
